package healthmetrics

import (
	"context"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.HealthMetric) (*models.HealthMetric, error)
	// ListByUser returns one page of readings, most recently recorded first,
	// and the total number of readings.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.HealthMetric, int, error)
	Summary(ctx context.Context, userID string, since time.Time) (*models.HealthMetricsSummary, error)
}
