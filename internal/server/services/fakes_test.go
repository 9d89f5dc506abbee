package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/dbx"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/auth"
	"github.com/dmitrijs2005/diacheck/internal/server/config"
	"github.com/dmitrijs2005/diacheck/internal/server/mlclient"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/healthmetrics"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/predictions"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- users ---

type memUsers struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	seq    int
	failOn error
}

func (r *memUsers) clone(u *models.User) *models.User {
	c := *u
	return &c
}

func (r *memUsers) Create(_ context.Context, nu *models.NewUser) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return nil, r.failOn
	}
	for _, u := range r.byID {
		if u.Email == nu.Email {
			return nil, common.ErrDuplicateEmail
		}
	}
	r.seq++
	u := &models.User{
		ID: fmt.Sprintf("user-%d", r.seq), Email: nu.Email, PasswordHash: nu.PasswordHash,
		FirstName: nu.FirstName, LastName: nu.LastName, Phone: nu.Phone, DateOfBirth: nu.DateOfBirth,
		Gender: nu.Gender, Status: common.UserStatusActive,
	}
	r.byID[u.ID] = u
	return r.clone(u), nil
}

func (r *memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return nil, r.failOn
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return r.clone(u), nil
}

func (r *memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return nil, r.failOn
	}
	for _, u := range r.byID {
		if u.Email == email {
			return r.clone(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memUsers) FindByResetToken(_ context.Context, token string, now time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.ResetToken != nil && *u.ResetToken == token && u.ResetTokenExpires.After(now) {
			return r.clone(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memUsers) RecordFailedAttempt(_ context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return 0, nil, common.ErrNotFound
	}
	if u.LockedUntil != nil && !u.LockedUntil.After(now) {
		u.LoginAttempts = 1
		u.LockedUntil = nil
	} else {
		u.LoginAttempts++
		if u.LoginAttempts >= threshold {
			l := lockUntil
			u.LockedUntil = &l
		}
	}
	return u.LoginAttempts, u.LockedUntil, nil
}

func (r *memUsers) RecordSuccessfulLogin(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &now
	return nil
}

func (r *memUsers) SetResetToken(_ context.Context, id, token string, expires, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.ResetToken = &token
	u.ResetTokenExpires = &expires
	return nil
}

func (r *memUsers) UpdatePassword(_ context.Context, id, hash string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.PasswordHash = hash
	u.ResetToken = nil
	u.ResetTokenExpires = nil
	return nil
}

func (r *memUsers) UpdateProfile(_ context.Context, id string, upd *models.UserUpdate, _ time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Phone != nil {
		u.Phone = upd.Phone
	}
	if upd.DateOfBirth != nil {
		u.DateOfBirth = upd.DateOfBirth
	}
	if upd.Gender != nil {
		u.Gender = upd.Gender
	}
	return r.clone(u), nil
}

func (r *memUsers) SetProfilePicture(_ context.Context, id, key string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.ProfilePictureKey = &key
	return nil
}

// --- sessions ---

type memSessions struct {
	mu        sync.Mutex
	byID      map[string]*models.Session
	seq       int
	createErr error
	// stolen simulates a concurrent rotation that deactivated the row first.
	stolen bool
}

func (r *memSessions) Create(_ context.Context, s *models.Session) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	c := *s
	c.ID = fmt.Sprintf("sess-%d", r.seq)
	c.IsActive = true
	r.byID[c.ID] = &c
	out := c
	return &out, nil
}

func (r *memSessions) find(match func(*models.Session) bool) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if match(s) {
			c := *s
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memSessions) FindByToken(_ context.Context, token string) (*models.Session, error) {
	return r.find(func(s *models.Session) bool { return s.Token == token })
}

func (r *memSessions) FindByRefreshToken(_ context.Context, refresh string) (*models.Session, error) {
	return r.find(func(s *models.Session) bool { return s.RefreshToken == refresh })
}

func (r *memSessions) Touch(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.LastActivity = now
	}
	return nil
}

func (r *memSessions) DeactivateByToken(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.Token == token && s.IsActive {
			s.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (r *memSessions) DeactivateByID(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stolen {
		return false, nil
	}
	s, ok := r.byID[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	return true, nil
}

func (r *memSessions) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byID {
		if s.IsActive {
			n++
		}
	}
	return n
}

// --- profiles ---

type memProfiles struct {
	mu   sync.Mutex
	byID map[string]*models.HealthProfile
}

func (r *memProfiles) Get(_ context.Context, userID string) (*models.HealthProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *memProfiles) Upsert(_ context.Context, p *models.HealthProfile) (*models.HealthProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[p.UserID]
	if !ok {
		cur = &models.HealthProfile{UserID: p.UserID}
		r.byID[p.UserID] = cur
	}
	if p.HeightCm != nil {
		cur.HeightCm = p.HeightCm
	}
	if p.WeightKg != nil {
		cur.WeightKg = p.WeightKg
	}
	if p.BloodType != nil {
		cur.BloodType = p.BloodType
	}
	if p.MedicalConditions != nil {
		cur.MedicalConditions = p.MedicalConditions
	}
	if p.Medications != nil {
		cur.Medications = p.Medications
	}
	if p.Allergies != nil {
		cur.Allergies = p.Allergies
	}
	cur.UpdatedAt = p.UpdatedAt
	c := *cur
	return &c, nil
}

// --- predictions ---

type memPredictions struct {
	mu        sync.Mutex
	items     []*models.Prediction
	seq       int
	createErr error
	lastLimit int
	statsErr  error
	lastSince time.Time
}

func (r *memPredictions) Create(_ context.Context, p *models.Prediction) (*models.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	p.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", r.seq)
	p.CreatedAt = time.Date(2024, 6, 1, 9, 0, r.seq, 0, time.UTC)
	r.items = append(r.items, p)
	return p, nil
}

func (r *memPredictions) owned(userID string) []*models.Prediction {
	var out []*models.Prediction
	for _, p := range r.items {
		if p.UserID != nil && *p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memPredictions) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.Prediction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	all := r.owned(userID)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (r *memPredictions) FindByID(_ context.Context, id, userID string) (*models.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.owned(userID) {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memPredictions) Delete(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.items {
		if p.ID == id && p.UserID != nil && *p.UserID == userID {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memPredictions) Stats(_ context.Context, userID string) (*models.PredictionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &models.PredictionStats{}
	var sum float64
	for _, p := range r.owned(userID) {
		s.Total++
		sum += p.Probability
		if s.LastPredictionAt == nil || p.CreatedAt.After(*s.LastPredictionAt) {
			t := p.CreatedAt
			s.LastPredictionAt = &t
		}
		switch p.RiskLevel {
		case common.RiskLow:
			s.LowRisk++
		case common.RiskModerate:
			s.ModerateRisk++
		case common.RiskHigh:
			s.HighRisk++
		}
	}
	if s.Total > 0 {
		s.AverageProbability = sum / float64(s.Total)
	}
	return s, nil
}

func (r *memPredictions) Trend(_ context.Context, userID string, since time.Time) ([]models.TrendPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	r.lastSince = since
	byDay := map[time.Time]*models.TrendPoint{}
	var days []time.Time
	for _, p := range r.owned(userID) {
		if p.CreatedAt.Before(since) {
			continue
		}
		day := p.CreatedAt.Truncate(24 * time.Hour)
		tp, ok := byDay[day]
		if !ok {
			tp = &models.TrendPoint{Date: day}
			byDay[day] = tp
			days = append(days, day)
		}
		tp.AvgProbability = (tp.AvgProbability*float64(tp.Count) + p.Probability) / float64(tp.Count+1)
		tp.Count++
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]models.TrendPoint, 0, len(days))
	for _, d := range days {
		out = append(out, *byDay[d])
	}
	return out, nil
}

func (r *memPredictions) GlobalStats(_ context.Context) (*models.GlobalPredictionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	s := &models.GlobalPredictionStats{Total: len(r.items)}
	users := map[string]bool{}
	for _, p := range r.items {
		if p.UserID != nil {
			users[*p.UserID] = true
		}
		if p.RiskLevel == common.RiskHigh {
			s.HighRisk++
		}
	}
	s.UniqueUsers = len(users)
	return s, nil
}

func (r *memPredictions) Recent(_ context.Context, limit int) ([]models.RecentPrediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RecentPrediction
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		p := r.items[i]
		out = append(out, models.RecentPrediction{ID: p.ID, RiskLevel: p.RiskLevel, Probability: p.Probability, CreatedAt: p.CreatedAt})
	}
	return out, nil
}

// --- health metrics ---

type memHealthMetrics struct {
	mu        sync.Mutex
	items     []*models.HealthMetric
	seq       int
	err       error
	lastSince time.Time
}

func (r *memHealthMetrics) Create(_ context.Context, m *models.HealthMetric) (*models.HealthMetric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.seq++
	m.ID = fmt.Sprintf("metric-%d", r.seq)
	m.CreatedAt = m.RecordedAt
	r.items = append(r.items, m)
	return m, nil
}

func (r *memHealthMetrics) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.HealthMetric, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, 0, r.err
	}
	var all []*models.HealthMetric
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].UserID == userID {
			all = append(all, r.items[i])
		}
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (r *memHealthMetrics) Summary(_ context.Context, userID string, since time.Time) (*models.HealthMetricsSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.lastSince = since
	s := &models.HealthMetricsSummary{}
	for _, m := range r.items {
		if m.UserID == userID && !m.RecordedAt.Before(since) {
			s.Records++
			t := m.RecordedAt
			s.LastRecordedAt = &t
		}
	}
	return s, nil
}

// --- manager ---

type memRepoManager struct {
	users       *memUsers
	sessions    *memSessions
	profiles    *memProfiles
	predictions *memPredictions
	metrics     *memHealthMetrics
}

func newMemRepoManager() *memRepoManager {
	return &memRepoManager{
		users:       &memUsers{byID: map[string]*models.User{}},
		sessions:    &memSessions{byID: map[string]*models.Session{}},
		profiles:    &memProfiles{byID: map[string]*models.HealthProfile{}},
		predictions: &memPredictions{},
		metrics:     &memHealthMetrics{},
	}
}

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepoManager) Users(dbx.DBTX) users.Repository { return m.users }
func (m *memRepoManager) Sessions(dbx.DBTX) sessions.Repository { return m.sessions }
func (m *memRepoManager) Profiles(dbx.DBTX) profiles.Repository { return m.profiles }
func (m *memRepoManager) Predictions(dbx.DBTX) predictions.Repository { return m.predictions }
func (m *memRepoManager) HealthMetrics(dbx.DBTX) healthmetrics.Repository { return m.metrics }

// --- collaborators ---

type sentReset struct{ email, link string }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{email, link})
	return n.err
}

type fakeStorage struct {
	putKeys []string
	err     error
}

func (s *fakeStorage) PresignPut(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.putKeys = append(s.putKeys, key)
	return "https://s3.local/put/" + key, nil
}

func (s *fakeStorage) PresignGet(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://s3.local/get/" + key, nil
}

type fakePredictor struct {
	out    *mlclient.Response
	err    error
	calls  []mlclient.Request
	health mlclient.Health
}

func (p *fakePredictor) Health(context.Context) mlclient.Health {
	return p.health
}

func (p *fakePredictor) Predict(_ context.Context, in mlclient.Request) (*mlclient.Response, error) {
	p.calls = append(p.calls, in)
	if p.err != nil {
		return nil, p.err
	}
	return p.out, nil
}

// --- harness ---

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

type harness struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	repos    *memRepoManager
	clock    *fakeClock
	sessions *SessionService
	users    *UserService
	notifier *fakeNotifier
	storage  *fakeStorage
	cfg      *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db: db, mock: mock, repos: newMemRepoManager(), clock: newFakeClock(),
		notifier: &fakeNotifier{}, storage: &fakeStorage{}, cfg: testConfig(),
	}
	h.sessions = NewSessionService(db, h.repos, h.cfg, logging.Nop{})
	h.sessions.now = h.clock.Now
	h.users = NewUserService(db, h.repos, h.sessions, auth.NewBcryptHasher(h.cfg.BcryptCost),
		h.notifier, h.storage, h.cfg, logging.Nop{})
	h.users.now = h.clock.Now
	return h
}

// expectTx queues n committed transactions.
func (h *harness) expectTx(n int) {
	for i := 0; i < n; i++ {
		h.mock.ExpectBegin()
		h.mock.ExpectCommit()
	}
}

func (h *harness) expectRollback() {
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
}

func (h *harness) register(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	h.expectTx(1)
	res, err := h.users.Register(context.Background(), RegisterInput{
		Email: email, Password: password, FirstName: "Ann", LastName: "Lee",
	}, models.DeviceInfo{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return res
}

var errStorage = errors.New("connection reset")
