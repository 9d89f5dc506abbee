// Package users provides the PostgreSQL-backed credential store.
package users

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

const emailConstraint = "users_email_key"

const userColumns = `id, email, password_hash, first_name, last_name, phone, date_of_birth, gender,
		email_verified, status, login_attempts, locked_until, last_login,
		reset_token, reset_token_expires, profile_picture_key, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &u.DateOfBirth, &u.Gender,
		&u.EmailVerified, &u.Status, &u.LoginAttempts, &u.LockedUntil, &u.LastLogin,
		&u.ResetToken, &u.ResetTokenExpires, &u.ProfilePictureKey, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, nu *models.NewUser) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, date_of_birth, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query,
		nu.Email, nu.PasswordHash, nu.FirstName, nu.LastName, nu.Phone, nu.DateOfBirth, nu.Gender))
	if err != nil {
		if dbx.IsUniqueViolation(err, emailConstraint) {
			return nil, common.ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) FindByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token = $1 AND reset_token_expires > $2`
	return scanUser(r.db.QueryRowContext(ctx, query, token, now))
}

func (r *PostgresRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET login_attempts = CASE WHEN locked_until <= $4 THEN 1 ELSE login_attempts + 1 END,
		    locked_until = CASE
		        WHEN locked_until <= $4 THEN NULL
		        WHEN login_attempts + 1 >= $2 THEN $3
		        ELSE locked_until
		    END,
		    updated_at = $4
		WHERE id = $1
		RETURNING login_attempts, locked_until`

	var attempts int
	var lockedUntil *time.Time
	err := r.db.QueryRowContext(ctx, query, id, threshold, lockUntil, now).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, common.ErrNotFound
		}
		return 0, nil, fmt.Errorf("db error: %w", err)
	}
	return attempts, lockedUntil, nil
}

func (r *PostgresRepository) RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE users
		SET login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = $2
		WHERE id = $1`
	return r.execOne(ctx, query, id, now)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, id, token string, expires, now time.Time) error {
	query := `
		UPDATE users
		SET reset_token = $2, reset_token_expires = $3, updated_at = $4
		WHERE id = $1`
	return r.execOne(ctx, query, id, token, expires, now)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, hash string, now time.Time) error {
	query := `
		UPDATE users
		SET password_hash = $2, reset_token = NULL, reset_token_expires = NULL, updated_at = $3
		WHERE id = $1`
	return r.execOne(ctx, query, id, hash, now)
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id string, upd *models.UserUpdate, now time.Time) (*models.User, error) {
	query := `
		UPDATE users
		SET first_name = COALESCE($2, first_name),
		    last_name = COALESCE($3, last_name),
		    phone = COALESCE($4, phone),
		    date_of_birth = COALESCE($5, date_of_birth),
		    gender = COALESCE($6, gender),
		    updated_at = $7
		WHERE id = $1
		RETURNING ` + userColumns

	return scanUser(r.db.QueryRowContext(ctx, query,
		id, upd.FirstName, upd.LastName, upd.Phone, upd.DateOfBirth, upd.Gender, now))
}

func (r *PostgresRepository) SetProfilePicture(ctx context.Context, id, key string, now time.Time) error {
	query := `UPDATE users SET profile_picture_key = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, key, now)
}

// execOne runs an UPDATE that must touch exactly one user row.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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
