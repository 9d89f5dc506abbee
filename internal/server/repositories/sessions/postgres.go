// Package sessions provides a PostgreSQL-backed store for issued
// bearer/refresh token pairs.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

const sessionColumns = `id, user_id, session_token, refresh_token, device_info, expires_at,
		refresh_expires_at, is_active, last_activity, created_at`

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts s and fills in its generated id and created_at.
func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	device, err := json.Marshal(s.Device)
	if err != nil {
		return nil, fmt.Errorf("encode device info: %w", err)
	}

	query := `
		INSERT INTO user_sessions (user_id, session_token, refresh_token, device_info, ip_address, user_agent,
			expires_at, refresh_expires_at, is_active, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		s.UserID, s.Token, s.RefreshToken, string(device), s.Device.IP, s.Device.UserAgent,
		s.ExpiresAt, s.RefreshExpiresAt, s.LastActivity).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.IsActive = true
	return s, nil
}

// FindByToken returns the session for a bearer token whatever its state.
// If not found, it returns common.ErrNotFound.
func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE session_token = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, token))
}

// FindByRefreshToken returns the session for a refresh token whatever its
// state. If not found, it returns common.ErrNotFound.
func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE refresh_token = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, refreshToken))
}

// Touch records activity on a session.
func (r *PostgresRepository) Touch(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE user_sessions SET last_activity = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeactivateByToken(ctx context.Context, token string) (bool, error) {
	query := `UPDATE user_sessions SET is_active = FALSE WHERE session_token = $1 AND is_active`
	return r.deactivate(ctx, query, token)
}

func (r *PostgresRepository) DeactivateByID(ctx context.Context, id string) (bool, error) {
	query := `UPDATE user_sessions SET is_active = FALSE WHERE id = $1 AND is_active`
	return r.deactivate(ctx, query, id)
}

func (r *PostgresRepository) deactivate(ctx context.Context, query string, arg string) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, arg)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	s := &models.Session{}
	var device []byte
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &device, &s.ExpiresAt,
		&s.RefreshExpiresAt, &s.IsActive, &s.LastActivity, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(device) > 0 {
		if err := json.Unmarshal(device, &s.Device); err != nil {
			return nil, fmt.Errorf("decode device info: %w", err)
		}
	}
	return s, nil
}
