package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

// Repository is the credential store.
type Repository interface {
	Create(ctx context.Context, u *models.NewUser) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// FindByResetToken returns the user holding the reset token digest if it
	// expires after now.
	FindByResetToken(ctx context.Context, digest string, now time.Time) (*models.User, error)
	// RecordFailedAttempt atomically bumps the failure counter and sets
	// locked_until to lockUntil once the counter reaches threshold. A lockout
	// that has already run out restarts the count at one.
	RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error)
	RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error
	SetResetToken(ctx context.Context, id, digest string, expires, now time.Time) error
	// UpdatePassword replaces the hash and clears any pending reset token.
	UpdatePassword(ctx context.Context, id, hash string, now time.Time) error
	UpdateProfile(ctx context.Context, id string, upd *models.UserUpdate, now time.Time) (*models.User, error)
	SetProfilePicture(ctx context.Context, id, key string, now time.Time) error
}
