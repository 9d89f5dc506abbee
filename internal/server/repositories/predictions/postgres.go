// Package predictions stores prediction results in PostgreSQL.
package predictions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

const predictionColumns = `id, user_id, age, glucose, blood_pressure, skin_thickness, insulin, bmi,
		diabetes_pedigree_function, pregnancies, prediction_result, probability, confidence,
		risk_level, model_version, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrediction(row scanner) (*models.Prediction, error) {
	p := &models.Prediction{}
	err := row.Scan(&p.ID, &p.UserID, &p.Age, &p.Glucose, &p.BloodPressure, &p.SkinThickness, &p.Insulin, &p.BMI,
		&p.DiabetesPedigreeFunction, &p.Pregnancies, &p.Result, &p.Probability, &p.Confidence,
		&p.RiskLevel, &p.ModelVersion, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	query := `
		INSERT INTO prediction_history (user_id, age, glucose, blood_pressure, skin_thickness, insulin, bmi,
			diabetes_pedigree_function, pregnancies, prediction_result, probability, confidence,
			risk_level, model_version, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		p.UserID, p.Age, p.Glucose, p.BloodPressure, p.SkinThickness, p.Insulin, p.BMI,
		p.DiabetesPedigreeFunction, p.Pregnancies, p.Result, p.Probability, p.Confidence,
		p.RiskLevel, p.ModelVersion, p.IPAddress, p.UserAgent).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Prediction, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prediction_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `SELECT ` + predictionColumns + `
		FROM prediction_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	items := make([]*models.Prediction, 0, limit)
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	return items, total, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id, userID string) (*models.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM prediction_history WHERE id = $1 AND user_id = $2`
	return scanPrediction(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM prediction_history WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Stats(ctx context.Context, userID string) (*models.PredictionStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(AVG(probability), 0),
		       MAX(created_at),
		       COUNT(*) FILTER (WHERE risk_level = 'Low'),
		       COUNT(*) FILTER (WHERE risk_level = 'Moderate'),
		       COUNT(*) FILTER (WHERE risk_level = 'High')
		FROM prediction_history
		WHERE user_id = $1`

	s := &models.PredictionStats{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.Total, &s.AverageProbability, &s.LastPredictionAt, &s.LowRisk, &s.ModerateRisk, &s.HighRisk)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Trend(ctx context.Context, userID string, since time.Time) ([]models.TrendPoint, error) {
	query := `
		SELECT date_trunc('day', created_at) AS day,
		       COUNT(*),
		       AVG(probability)::float8,
		       AVG(bmi)::float8,
		       AVG(glucose)::float8,
		       AVG(blood_pressure)::float8
		FROM prediction_history
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.TrendPoint
	for rows.Next() {
		var p models.TrendPoint
		if err := rows.Scan(&p.Date, &p.Count, &p.AvgProbability, &p.AvgBMI, &p.AvgGlucose, &p.AvgBloodPressure); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GlobalStats(ctx context.Context) (*models.GlobalPredictionStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id),
		       COALESCE(AVG(probability), 0),
		       COUNT(*) FILTER (WHERE risk_level = 'Low'),
		       COUNT(*) FILTER (WHERE risk_level = 'Moderate'),
		       COUNT(*) FILTER (WHERE risk_level = 'High'),
		       MAX(created_at)
		FROM prediction_history`

	s := &models.GlobalPredictionStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.Total, &s.UniqueUsers, &s.AverageProbability, &s.LowRisk, &s.ModerateRisk, &s.HighRisk, &s.LastPredictionAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]models.RecentPrediction, error) {
	query := `
		SELECT id, risk_level, probability, created_at
		FROM prediction_history
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]models.RecentPrediction, 0, limit)
	for rows.Next() {
		var p models.RecentPrediction
		if err := rows.Scan(&p.ID, &p.RiskLevel, &p.Probability, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
