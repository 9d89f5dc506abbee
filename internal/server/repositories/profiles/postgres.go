// Package profiles stores optional per-user health profiles.
package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

const profileColumns = `user_id, height_cm, weight_kg, blood_type, medical_conditions, medications, allergies, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.HealthProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE user_id = $1`
	return scanProfile(r.db.QueryRowContext(ctx, query, userID))
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *models.HealthProfile) (*models.HealthProfile, error) {
	conditions, err := encodeList(p.MedicalConditions)
	if err != nil {
		return nil, err
	}
	medications, err := encodeList(p.Medications)
	if err != nil {
		return nil, err
	}
	allergies, err := encodeList(p.Allergies)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO user_profiles (user_id, height_cm, weight_kg, blood_type, medical_conditions, medications, allergies, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			height_cm = COALESCE(EXCLUDED.height_cm, user_profiles.height_cm),
			weight_kg = COALESCE(EXCLUDED.weight_kg, user_profiles.weight_kg),
			blood_type = COALESCE(EXCLUDED.blood_type, user_profiles.blood_type),
			medical_conditions = COALESCE(EXCLUDED.medical_conditions, user_profiles.medical_conditions),
			medications = COALESCE(EXCLUDED.medications, user_profiles.medications),
			allergies = COALESCE(EXCLUDED.allergies, user_profiles.allergies),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + profileColumns

	return scanProfile(r.db.QueryRowContext(ctx, query,
		p.UserID, p.HeightCm, p.WeightKg, p.BloodType, conditions, medications, allergies, p.UpdatedAt))
}

// encodeList maps nil to SQL NULL so COALESCE keeps the stored value.
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

func scanProfile(row *sql.Row) (*models.HealthProfile, error) {
	p := &models.HealthProfile{}
	var conditions, medications, allergies []byte
	err := row.Scan(&p.UserID, &p.HeightCm, &p.WeightKg, &p.BloodType, &conditions, &medications, &allergies, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if p.MedicalConditions, err = decodeList(conditions); err != nil {
		return nil, err
	}
	if p.Medications, err = decodeList(medications); err != nil {
		return nil, err
	}
	if p.Allergies, err = decodeList(allergies); err != nil {
		return nil, err
	}
	return p, nil
}
