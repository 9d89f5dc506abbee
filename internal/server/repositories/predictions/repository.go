package predictions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Prediction) (*models.Prediction, error)
	// ListByUser returns one page of the user's history, newest first, and the
	// total number of records.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Prediction, int, error)
	FindByID(ctx context.Context, id, userID string) (*models.Prediction, error)
	Delete(ctx context.Context, id, userID string) error
	Stats(ctx context.Context, userID string) (*models.PredictionStats, error)
	// Trend returns per-day aggregates of the user's predictions made at or
	// after since, oldest day first.
	Trend(ctx context.Context, userID string, since time.Time) ([]models.TrendPoint, error)
	GlobalStats(ctx context.Context) (*models.GlobalPredictionStats, error)
	Recent(ctx context.Context, limit int) ([]models.RecentPrediction, error)
}
