// Package healthmetrics stores vitals readings in PostgreSQL.
package healthmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

const metricColumns = `id, systolic_bp, diastolic_bp, heart_rate, temperature, oxygen_saturation,
		fasting_glucose, random_glucose, hba1c, weight, height, waist_circumference, hip_circumference,
		notes, symptoms, medications_taken, recorded_by, source, recorded_at, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetric(row scanner, userID string) (*models.HealthMetric, error) {
	m := &models.HealthMetric{UserID: userID}
	var symptoms, medications []byte
	err := row.Scan(&m.ID, &m.SystolicBP, &m.DiastolicBP, &m.HeartRate, &m.Temperature, &m.OxygenSaturation,
		&m.FastingGlucose, &m.RandomGlucose, &m.HbA1c, &m.WeightKg, &m.HeightCm, &m.WaistCircumference, &m.HipCircumference,
		&m.Notes, &symptoms, &medications, &m.RecordedBy, &m.Source, &m.RecordedAt, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if m.Symptoms, err = decodeList(symptoms); err != nil {
		return nil, err
	}
	if m.MedicationsTaken, err = decodeList(medications); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepository) Create(ctx context.Context, m *models.HealthMetric) (*models.HealthMetric, error) {
	symptoms, err := encodeList(m.Symptoms)
	if err != nil {
		return nil, err
	}
	medications, err := encodeList(m.MedicationsTaken)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO health_metrics (user_id, systolic_bp, diastolic_bp, heart_rate, temperature, oxygen_saturation,
			fasting_glucose, random_glucose, hba1c, weight, height, waist_circumference, hip_circumference,
			notes, symptoms, medications_taken, recorded_by, source, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		m.UserID, m.SystolicBP, m.DiastolicBP, m.HeartRate, m.Temperature, m.OxygenSaturation,
		m.FastingGlucose, m.RandomGlucose, m.HbA1c, m.WeightKg, m.HeightCm, m.WaistCircumference, m.HipCircumference,
		m.Notes, symptoms, medications, m.RecordedBy, m.Source, m.RecordedAt).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.HealthMetric, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM health_metrics WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `SELECT ` + metricColumns + `
		FROM health_metrics
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	items := make([]*models.HealthMetric, 0, limit)
	for rows.Next() {
		m, err := scanMetric(rows, userID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	return items, total, nil
}

func (r *PostgresRepository) Summary(ctx context.Context, userID string, since time.Time) (*models.HealthMetricsSummary, error) {
	query := `
		SELECT COUNT(*),
		       AVG(weight)::float8,
		       AVG(systolic_bp)::float8,
		       AVG(diastolic_bp)::float8,
		       AVG(fasting_glucose)::float8,
		       MAX(recorded_at)
		FROM health_metrics
		WHERE user_id = $1 AND recorded_at >= $2`

	s := &models.HealthMetricsSummary{}
	err := r.db.QueryRowContext(ctx, query, userID, since).Scan(
		&s.Records, &s.AvgWeight, &s.AvgSystolicBP, &s.AvgDiastolicBP, &s.AvgFastingGlucose, &s.LastRecordedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func encodeList(list []string) (*string, error) {
	if list == nil {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeList(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}
