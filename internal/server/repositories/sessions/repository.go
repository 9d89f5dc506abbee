package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

// Repository is the session store. Rows are never deleted; revocation and
// rotation only clear is_active.
type Repository interface {
	Create(ctx context.Context, s *models.Session) (*models.Session, error)
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error)
	Touch(ctx context.Context, id string, now time.Time) error
	// DeactivateByToken reports whether an active session was switched off.
	DeactivateByToken(ctx context.Context, token string) (bool, error)
	// DeactivateByID reports whether an active session was switched off.
	DeactivateByID(ctx context.Context, id string) (bool, error)
}
