package profiles

import (
	"context"

	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrNotFound when the user has no health profile.
	Get(ctx context.Context, userID string) (*models.HealthProfile, error)
	// Upsert writes the non-nil fields of p, creating the row if needed.
	Upsert(ctx context.Context, p *models.HealthProfile) (*models.HealthProfile, error)
}
