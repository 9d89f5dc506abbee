package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/auth"
	"github.com/dmitrijs2005/diacheck/internal/server/config"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/repomanager"
	"github.com/golang-jwt/jwt/v5"
)

// TokenPair is what a client receives for a newly issued session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Session      *models.Session
}

// SessionService owns the session lifecycle: issue, validate, touch, revoke
// and rotate. A bearer token is honoured only while its session row is active
// and unexpired, whatever the token's own expiry claim says.
type SessionService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, l logging.Logger) *SessionService {
	return &SessionService{
		db:                           db,
		repomanager:                  m,
		logger:                       l.With("module", "sessions"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// Issue mints a bearer/refresh pair for user and persists the session using
// tx, which may be the pool or an open transaction.
func (s *SessionService) Issue(ctx context.Context, tx dbx.DBTX, user *models.User, device models.DeviceInfo) (*TokenPair, error) {
	now := s.now()

	access, expiresAt, err := auth.GenerateToken(auth.Subject{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}, s.jwtSecret, now, s.accessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	session, err := s.repomanager.Sessions(tx).Create(ctx, &models.Session{
		UserID:           user.ID,
		Token:            access,
		RefreshToken:     refresh,
		Device:           device,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: now.Add(s.refreshTokenValidityDuration),
		LastActivity:     now,
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt, Session: session}, nil
}

// Validate checks the token signature and expiry claim, then requires the
// backing session to be active with expires_at strictly after now.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, error) {
	if _, err := auth.ParseToken(token, s.jwtSecret, jwt.WithTimeFunc(s.now)); err != nil {
		return nil, err
	}

	session, err := s.repomanager.Sessions(s.db).FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		s.logger.Error(ctx, "session lookup failed", "error", err)
		return nil, common.ErrInternal
	}

	if !session.Usable(s.now()) {
		return nil, common.ErrUnauthorized
	}
	return session, nil
}

// Touch records activity on session.
func (s *SessionService) Touch(ctx context.Context, session *models.Session) error {
	return s.repomanager.Sessions(s.db).Touch(ctx, session.ID, s.now())
}

// Revoke deactivates the session behind token. Revoking a session that is
// already inactive, or unknown, is not an error.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	changed, err := s.repomanager.Sessions(s.db).DeactivateByToken(ctx, token)
	if err != nil {
		s.logger.Error(ctx, "session revoke failed", "error", err)
		return common.ErrInternal
	}
	if changed {
		s.logger.Debug(ctx, "session revoked")
	}
	return nil
}

// Rotate exchanges refreshToken for a new session and deactivates the old
// one in the same transaction. If a concurrent rotation already consumed
// the token, the transaction rolls back and the caller gets
// ErrInvalidRefreshToken.
func (s *SessionService) Rotate(ctx context.Context, refreshToken string, device models.DeviceInfo) (*TokenPair, error) {
	var pair *TokenPair
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		sessions := s.repomanager.Sessions(tx)

		old, err := sessions.FindByRefreshToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return err
		}
		if !old.Refreshable(s.now()) {
			return common.ErrInvalidRefreshToken
		}

		user, err := s.repomanager.Users(tx).FindByID(ctx, old.UserID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return err
		}
		if user.Status != common.UserStatusActive {
			return common.ErrInvalidRefreshToken
		}

		pair, err = s.Issue(ctx, tx, user, device)
		if err != nil {
			return err
		}

		changed, err := sessions.DeactivateByID(ctx, old.ID)
		if err != nil {
			return err
		}
		if !changed {
			return common.ErrInvalidRefreshToken
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidRefreshToken) {
			return nil, err
		}
		s.logger.Error(ctx, "session rotation failed", "error", err)
		return nil, common.ErrInternal
	}
	return pair, nil
}
