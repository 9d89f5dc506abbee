// Package services contains server-side business logic. UserService handles
// registration, login and the rest of the account lifecycle on top of the
// credential store and SessionService.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/cryptox"
	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/auth"
	"github.com/dmitrijs2005/diacheck/internal/server/config"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/repomanager"
	"github.com/golang-jwt/jwt/v5"
)

// AuthResult is returned by operations that sign a user in.
type AuthResult struct {
	User   *models.User
	Tokens *TokenPair
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	User    *models.User
	Session *models.Session
}

// Account is the caller's full view of their own data.
type Account struct {
	User              *models.User
	Profile           *models.HealthProfile
	Stats             *models.PredictionStats
	ProfilePictureURL string
}

// UserService is the only place that combines credential and session
// operations into user-facing flows.
type UserService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	sessions      *SessionService
	hasher        auth.PasswordHasher
	notifier      Notifier
	storage       ObjectStorage
	logger        logging.Logger
	jwtSecret     []byte
	maxFailed     int
	lockout       time.Duration
	resetValidity time.Duration
	publicBaseURL string
	now           func() time.Time
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, sessions *SessionService, hasher auth.PasswordHasher,
	notifier Notifier, storage ObjectStorage, cfg *config.Config, l logging.Logger) *UserService {
	return &UserService{
		db:            db,
		repomanager:   m,
		sessions:      sessions,
		hasher:        hasher,
		notifier:      notifier,
		storage:       storage,
		logger:        l.With("module", "users"),
		jwtSecret:     []byte(cfg.SecretKey),
		maxFailed:     cfg.MaxFailedLogins,
		lockout:       cfg.LockoutDuration,
		resetValidity: cfg.PasswordResetValidityDuration,
		publicBaseURL: cfg.PublicBaseURL,
		now:           time.Now,
	}
}

// internal logs err and hides it behind common.ErrInternal.
func (s *UserService) internal(ctx context.Context, msg string, err error, args ...any) error {
	s.logger.Error(ctx, msg, append(args, "error", err)...)
	return common.ErrInternal
}

// Register validates in, creates the account and signs the user in.
func (s *UserService) Register(ctx context.Context, in RegisterInput, device models.DeviceInfo) (*AuthResult, error) {
	nu, err := in.validate()
	if err != nil {
		return nil, err
	}

	nu.PasswordHash, err = s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(ctx, "password hashing failed", err)
	}

	var res AuthResult
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).Create(ctx, nu)
		if err != nil {
			return err
		}
		pair, err := s.sessions.Issue(ctx, tx, user, device)
		if err != nil {
			return err
		}
		res = AuthResult{User: user, Tokens: pair}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, s.internal(ctx, "registration failed", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", res.User.ID)
	return &res, nil
}

// Login authenticates email/password. Unknown accounts and wrong passwords
// both yield ErrInvalidCredentials. A locked account is rejected before the
// password is looked at.
func (s *UserService) Login(ctx context.Context, email, password string, device models.DeviceInfo) (*AuthResult, error) {
	email = auth.NormalizeEmail(email)

	var verr common.ValidationError
	if !auth.ValidEmail(email) {
		verr.Add("email", "Please provide a valid email address")
	}
	if password == "" {
		verr.Add("password", "Password is required")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	users := s.repomanager.Users(s.db)
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.hasher.CompareDummy(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}

	now := s.now()
	if user.IsLocked(now) {
		s.logger.Warn(ctx, "login attempt on locked account", "user_id", user.ID)
		return nil, common.ErrAccountLocked
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		attempts, lockedUntil, err := users.RecordFailedAttempt(ctx, user.ID, s.maxFailed, now.Add(s.lockout), now)
		if err != nil {
			return nil, s.internal(ctx, "recording failed attempt", err, "user_id", user.ID)
		}
		if lockedUntil != nil && lockedUntil.After(now) {
			s.logger.Warn(ctx, "account locked", "user_id", user.ID, "attempts", attempts, "locked_until", *lockedUntil)
		}
		return nil, common.ErrInvalidCredentials
	}
	if user.Status != common.UserStatusActive {
		return nil, common.ErrInvalidCredentials
	}

	var res AuthResult
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
			return err
		}
		pair, err := s.sessions.Issue(ctx, tx, user, device)
		if err != nil {
			return err
		}
		user.LoginAttempts = 0
		user.LockedUntil = nil
		user.LastLogin = &now
		res = AuthResult{User: user, Tokens: pair}
		return nil
	})
	if err != nil {
		return nil, s.internal(ctx, "login failed", err, "user_id", user.ID)
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return &res, nil
}

// Logout revokes the session behind token. The token signature must verify
// but its expiry and session state are not checked, so repeating a logout
// succeeds.
func (s *UserService) Logout(ctx context.Context, token string) error {
	if _, err := auth.ParseToken(token, s.jwtSecret, jwt.WithoutClaimsValidation()); err != nil {
		return common.ErrInvalidToken
	}
	return s.sessions.Revoke(ctx, token)
}

// Refresh rotates refreshToken into a new session.
func (s *UserService) Refresh(ctx context.Context, refreshToken string, device models.DeviceInfo) (*TokenPair, error) {
	if refreshToken == "" {
		var verr common.ValidationError
		verr.Add("refreshToken", "Refresh token is required")
		return nil, verr.Err()
	}
	return s.sessions.Rotate(ctx, refreshToken, device)
}

// RequestPasswordReset never reveals whether email belongs to an account.
// Known accounts get a one-hour reset token through the notifier; only its
// digest is stored.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = auth.NormalizeEmail(email)
	if !auth.ValidEmail(email) {
		var verr common.ValidationError
		verr.Add("email", "Please provide a valid email address")
		return verr.Err()
	}

	users := s.repomanager.Users(s.db)
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.logger.Error(ctx, "user lookup failed", "error", err)
		}
		return nil
	}

	token, err := common.MakeRandHexString(32)
	if err != nil {
		s.logger.Error(ctx, "reset token generation failed", "error", err)
		return nil
	}

	now := s.now()
	if err := users.SetResetToken(ctx, user.ID, cryptox.TokenDigest(token), now.Add(s.resetValidity), now); err != nil {
		s.logger.Error(ctx, "storing reset token failed", "user_id", user.ID, "error", err)
		return nil
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, ResetLink(s.publicBaseURL, token)); err != nil {
		s.logger.Error(ctx, "password reset dispatch failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired token.
func (s *UserService) ResetPassword(ctx context.Context, token, password string) error {
	var verr common.ValidationError
	if token == "" {
		verr.Add("token", "Reset token is required")
	}
	if msg := auth.PasswordProblem(password); msg != "" {
		verr.Add("password", msg)
	}
	if err := verr.Err(); err != nil {
		return err
	}

	users := s.repomanager.Users(s.db)
	now := s.now()
	user, err := users.FindByResetToken(ctx, cryptox.TokenDigest(token), now)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrInvalidOrExpiredToken
		}
		return s.internal(ctx, "reset token lookup failed", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return s.internal(ctx, "password hashing failed", err)
	}
	if err := users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return s.internal(ctx, "password update failed", err, "user_id", user.ID)
	}

	s.logger.Info(ctx, "password reset", "user_id", user.ID)
	return nil
}

// ChangePassword replaces the password of userID after checking current.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	var verr common.ValidationError
	if current == "" {
		verr.Add("currentPassword", "Current password is required")
	}
	if msg := auth.PasswordProblem(next); msg != "" {
		verr.Add("newPassword", msg)
	}
	if err := verr.Err(); err != nil {
		return err
	}

	users := s.repomanager.Users(s.db)
	user, err := users.FindByID(ctx, userID)
	if err != nil {
		return s.internal(ctx, "user lookup failed", err, "user_id", userID)
	}
	if !s.hasher.Compare(user.PasswordHash, current) {
		return common.ErrInvalidPassword
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return s.internal(ctx, "password hashing failed", err)
	}
	if err := users.UpdatePassword(ctx, userID, hash, s.now()); err != nil {
		return s.internal(ctx, "password update failed", err, "user_id", userID)
	}

	s.logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

// Authenticate resolves a bearer token to an active user and session.
func (s *UserService) Authenticate(ctx context.Context, token string) (*Identity, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, s.internal(ctx, "user lookup failed", err, "user_id", session.UserID)
	}
	if user.Status != common.UserStatusActive {
		return nil, common.ErrUnauthorized
	}

	return &Identity{User: user, Session: session}, nil
}

// Touch records activity on the caller's session.
func (s *UserService) Touch(ctx context.Context, id *Identity) error {
	return s.sessions.Touch(ctx, id.Session)
}

// Me assembles the caller's account view. A missing picture URL or health
// profile is not an error.
func (s *UserService) Me(ctx context.Context, userID string) (*Account, error) {
	user, err := s.repomanager.Users(s.db).FindByID(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "user lookup failed", err, "user_id", userID)
	}
	acc := &Account{User: user}

	acc.Profile, err = s.repomanager.Profiles(s.db).Get(ctx, userID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, s.internal(ctx, "profile lookup failed", err, "user_id", userID)
	}

	acc.Stats, err = s.repomanager.Predictions(s.db).Stats(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "prediction stats failed", err, "user_id", userID)
	}

	if user.ProfilePictureKey != nil {
		if u, err := s.storage.PresignGet(ctx, *user.ProfilePictureKey); err != nil {
			s.logger.Warn(ctx, "presign profile picture failed", "user_id", userID, "error", err)
		} else {
			acc.ProfilePictureURL = u
		}
	}
	return acc, nil
}

// UpdateProfile applies in to the user row and, when any health field is
// present, to the health profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*models.User, *models.HealthProfile, error) {
	upd, health, err := in.validate()
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	var user *models.User
	var profile *models.HealthProfile
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		user, err = s.repomanager.Users(tx).UpdateProfile(ctx, userID, upd, now)
		if err != nil {
			return err
		}
		if health.Empty() {
			return nil
		}
		health.UserID = userID
		health.UpdatedAt = now
		profile, err = s.repomanager.Profiles(tx).Upsert(ctx, health)
		return err
	})
	if err != nil {
		return nil, nil, s.internal(ctx, "profile update failed", err, "user_id", userID)
	}
	return user, profile, nil
}

// ProfilePictureUploadURL reserves a new object key for the user's picture
// and returns a presigned PUT URL for it.
func (s *UserService) ProfilePictureUploadURL(ctx context.Context, userID string) (key, uploadURL string, err error) {
	key = ProfilePictureKey(userID)
	uploadURL, err = s.storage.PresignPut(ctx, key)
	if err != nil {
		return "", "", s.internal(ctx, "presign upload failed", err, "user_id", userID)
	}
	if err := s.repomanager.Users(s.db).SetProfilePicture(ctx, userID, key, s.now()); err != nil {
		return "", "", s.internal(ctx, "storing picture key failed", err, "user_id", userID)
	}
	return key, uploadURL, nil
}

const (
	dashboardRecent = 5
	// DefaultStatsPeriod is the number of days Stats covers when the caller
	// does not choose.
	DefaultStatsPeriod = 30
	MaxStatsPeriod     = 365
)

// Dashboard is the account view plus recent activity.
type Dashboard struct {
	*Account
	RecentPredictions []*models.Prediction
	Trend             []models.TrendPoint
}

// UserStats covers one look-back period of a user's activity.
type UserStats struct {
	PeriodDays    int
	Predictions   *models.PredictionStats
	Trend         []models.TrendPoint
	HealthMetrics *models.HealthMetricsSummary
}

// ClampPeriod applies the default and bounds to a stats period in days.
func ClampPeriod(days int) int {
	if days <= 0 {
		return DefaultStatsPeriod
	}
	if days > MaxStatsPeriod {
		return MaxStatsPeriod
	}
	return days
}

func (s *UserService) since(days int) time.Time {
	return s.now().UTC().AddDate(0, 0, -days)
}

// Dashboard returns the caller's account, latest predictions and the daily
// trend for the default period.
func (s *UserService) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	acc, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Account: acc}

	d.RecentPredictions, _, err = s.repomanager.Predictions(s.db).ListByUser(ctx, userID, dashboardRecent, 0)
	if err != nil {
		return nil, s.internal(ctx, "recent predictions failed", err, "user_id", userID)
	}
	d.Trend, err = s.repomanager.Predictions(s.db).Trend(ctx, userID, s.since(DefaultStatsPeriod))
	if err != nil {
		return nil, s.internal(ctx, "prediction trend failed", err, "user_id", userID)
	}
	return d, nil
}

// Stats aggregates predictions and health metrics over the last days days.
func (s *UserService) Stats(ctx context.Context, userID string, days int) (*UserStats, error) {
	days = ClampPeriod(days)
	since := s.since(days)
	st := &UserStats{PeriodDays: days}

	var err error
	st.Predictions, err = s.repomanager.Predictions(s.db).Stats(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "prediction stats failed", err, "user_id", userID)
	}
	st.Trend, err = s.repomanager.Predictions(s.db).Trend(ctx, userID, since)
	if err != nil {
		return nil, s.internal(ctx, "prediction trend failed", err, "user_id", userID)
	}
	st.HealthMetrics, err = s.repomanager.HealthMetrics(s.db).Summary(ctx, userID, since)
	if err != nil {
		return nil, s.internal(ctx, "health metrics summary failed", err, "user_id", userID)
	}
	return st, nil
}
