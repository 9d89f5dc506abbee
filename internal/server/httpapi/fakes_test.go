package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/config"
	"github.com/dmitrijs2005/diacheck/internal/server/mlclient"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/services"
)

// fakeUsers keeps just enough state to drive the HTTP flows: accounts,
// passwords, failed attempts and live tokens.
type fakeUsers struct {
	mu        sync.Mutex
	users     map[string]*models.User // by email
	passwords map[string]string
	failures  map[string]int
	tokens    map[string]string // access token -> user id
	refresh   map[string]string // refresh token -> user id
	resets    int
	touched   chan string
	seq       int
	authErr   error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:     map[string]*models.User{},
		passwords: map[string]string{},
		failures:  map[string]int{},
		tokens:    map[string]string{},
		refresh:   map[string]string{},
		touched:   make(chan string, 16),
	}
}

func (f *fakeUsers) issue(u *models.User) *services.TokenPair {
	f.seq++
	access := fmt.Sprintf("access-%d", f.seq)
	refresh := fmt.Sprintf("refresh-%d", f.seq)
	f.tokens[access] = u.ID
	f.refresh[refresh] = u.ID
	return &services.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC),
		Session:      &models.Session{ID: "sess-" + access, UserID: u.ID},
	}
}

func (f *fakeUsers) byID(id string) *models.User {
	for _, u := range f.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) Register(_ context.Context, in services.RegisterInput, _ models.DeviceInfo) (*services.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Password == "" || in.Email == "" {
		var verr common.ValidationError
		verr.Add("password", "Password must be at least 8 characters long")
		return nil, verr.Err()
	}
	if _, ok := f.users[in.Email]; ok {
		return nil, common.ErrDuplicateEmail
	}
	u := &models.User{ID: fmt.Sprintf("user-%d", len(f.users)+1), Email: in.Email, FirstName: in.FirstName, LastName: in.LastName, Status: common.UserStatusActive}
	f.users[in.Email] = u
	f.passwords[in.Email] = in.Password
	return &services.AuthResult{User: u, Tokens: f.issue(u)}, nil
}

func (f *fakeUsers) Login(_ context.Context, email, password string, _ models.DeviceInfo) (*services.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, common.ErrInvalidCredentials
	}
	if f.failures[email] >= 5 {
		return nil, common.ErrAccountLocked
	}
	if f.passwords[email] != password {
		f.failures[email]++
		return nil, common.ErrInvalidCredentials
	}
	f.failures[email] = 0
	return &services.AuthResult{User: u, Tokens: f.issue(u)}, nil
}

func (f *fakeUsers) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "forged" {
		return common.ErrInvalidToken
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeUsers) Refresh(_ context.Context, refresh string, _ models.DeviceInfo) (*services.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.refresh[refresh]
	if !ok {
		return nil, common.ErrInvalidRefreshToken
	}
	delete(f.refresh, refresh)
	return f.issue(f.byID(id)), nil
}

func (f *fakeUsers) RequestPasswordReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		f.resets++
	}
	return nil
}

func (f *fakeUsers) ResetPassword(_ context.Context, token, _ string) error {
	if token != "good-reset" {
		return common.ErrInvalidOrExpiredToken
	}
	return nil
}

func (f *fakeUsers) ChangePassword(_ context.Context, userID, current, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID(userID)
	if f.passwords[u.Email] != current {
		return common.ErrInvalidPassword
	}
	return nil
}

func (f *fakeUsers) Authenticate(_ context.Context, token string) (*services.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	if token == "expired" {
		return nil, common.ErrTokenExpired
	}
	id, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrUnauthorized
	}
	return &services.Identity{User: f.byID(id), Session: &models.Session{ID: "sess-" + token, UserID: id}}, nil
}

func (f *fakeUsers) Touch(_ context.Context, id *services.Identity) error {
	select {
	case f.touched <- id.Session.ID:
	default:
	}
	return nil
}

func (f *fakeUsers) Me(_ context.Context, userID string) (*services.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &services.Account{User: f.byID(userID), Stats: &models.PredictionStats{}}, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, userID string, in services.ProfileInput) (*models.User, *models.HealthProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID(userID)
	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	var p *models.HealthProfile
	if in.HeightCm != nil {
		p = &models.HealthProfile{UserID: userID, HeightCm: in.HeightCm}
	}
	return u, p, nil
}

func (f *fakeUsers) ProfilePictureUploadURL(_ context.Context, userID string) (string, string, error) {
	key := "avatars/" + userID + "/k"
	return key, "https://s3.local/" + key, nil
}

func (f *fakeUsers) Dashboard(ctx context.Context, userID string) (*services.Dashboard, error) {
	acc, _ := f.Me(ctx, userID)
	return &services.Dashboard{
		Account:           acc,
		RecentPredictions: []*models.Prediction{{ID: knownPredictionID, RiskLevel: common.RiskLow}},
	}, nil
}

func (f *fakeUsers) Stats(_ context.Context, _ string, days int) (*services.UserStats, error) {
	return &services.UserStats{
		PeriodDays:    services.ClampPeriod(days),
		Predictions:   &models.PredictionStats{Total: 2},
		HealthMetrics: &models.HealthMetricsSummary{Records: 1},
	}, nil
}

type fakePredictions struct {
	mu       sync.Mutex
	lastUser *string
	err      error
	history  []*models.Prediction
	limit    int
	offset   int
	batched  []models.PredictionInput
	health   mlclient.Health
}

const knownPredictionID = "6f1c1a8e-7c1e-4a55-9c55-2f6f7b0b5a11"

func (f *fakePredictions) Predict(_ context.Context, userID *string, in models.PredictionInput, client models.DeviceInfo) (*services.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUser = userID
	if f.err != nil {
		return nil, f.err
	}
	p := &models.Prediction{
		ID: knownPredictionID, UserID: userID, PredictionInput: in,
		Result: 1, Probability: 0.75, Confidence: 0.75, RiskLevel: common.RiskHigh,
		ModelVersion: services.ModelVersion, IPAddress: client.IP,
	}
	return &services.PredictionResult{Prediction: p, Message: "High risk", Recommendations: []string{"see a doctor"}}, nil
}

func (f *fakePredictions) History(_ context.Context, _ string, limit, offset int) ([]*models.Prediction, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit, f.offset = limit, offset
	return f.history, len(f.history), nil
}

func (f *fakePredictions) Get(_ context.Context, _ string, id string) (*models.Prediction, error) {
	if id != knownPredictionID {
		return nil, common.ErrNotFound
	}
	return &models.Prediction{ID: id, RiskLevel: common.RiskLow}, nil
}

func (f *fakePredictions) Delete(_ context.Context, _ string, id string) error {
	if id != knownPredictionID {
		return common.ErrNotFound
	}
	return nil
}

func (f *fakePredictions) Info() services.ModelInfo {
	return services.ModelInfo{Name: "Random Forest Classifier", Version: services.ModelVersion}
}

func (f *fakePredictions) Batch(ctx context.Context, userID *string, inputs []models.PredictionInput, client models.DeviceInfo) ([]services.BatchItem, error) {
	f.mu.Lock()
	f.batched = inputs
	f.mu.Unlock()
	items := make([]services.BatchItem, len(inputs))
	for i, in := range inputs {
		items[i].Index = i
		if in.Age > 120 {
			var verr common.ValidationError
			verr.Add("age", "Age must be between 1 and 120")
			items[i].Err = verr.Err()
			continue
		}
		items[i].Result, items[i].Err = f.Predict(ctx, userID, in, client)
	}
	return items, nil
}

func (f *fakePredictions) ModelHealth(context.Context) mlclient.Health {
	return f.health
}

func (f *fakePredictions) GlobalStats(context.Context) (*models.GlobalPredictionStats, []models.RecentPrediction, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &models.GlobalPredictionStats{Total: 3, UniqueUsers: 2},
		[]models.RecentPrediction{{ID: knownPredictionID, RiskLevel: common.RiskHigh, Probability: 0.75}}, nil
}

type fakeHealthMetrics struct {
	mu       sync.Mutex
	recorded []services.HealthMetricInput
	limit    int
	offset   int
}

func (f *fakeHealthMetrics) Record(_ context.Context, userID string, in services.HealthMetricInput) (*models.HealthMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.SystolicBP == nil && in.HeartRate == nil && in.WeightKg == nil {
		var verr common.ValidationError
		verr.Add("metrics", "At least one measurement is required")
		return nil, verr.Err()
	}
	f.recorded = append(f.recorded, in)
	return &models.HealthMetric{
		ID: fmt.Sprintf("metric-%d", len(f.recorded)), UserID: userID,
		SystolicBP: in.SystolicBP, HeartRate: in.HeartRate, WeightKg: in.WeightKg,
		RecordedBy: "user", Source: "manual",
	}, nil
}

func (f *fakeHealthMetrics) List(_ context.Context, userID string, limit, offset int) ([]*models.HealthMetric, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit, f.offset = limit, offset
	var out []*models.HealthMetric
	for i := range f.recorded {
		out = append(out, &models.HealthMetric{ID: fmt.Sprintf("metric-%d", i+1), UserID: userID})
	}
	return out, len(out), nil
}

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	return cfg
}

type fixture struct {
	server      *Server
	users       *fakeUsers
	predictions *fakePredictions
	metrics     *fakeHealthMetrics
}

func newFixture(cfg *config.Config) *fixture {
	if cfg == nil {
		cfg = testConfig()
	}
	f := &fixture{users: newFakeUsers(), predictions: &fakePredictions{}, metrics: &fakeHealthMetrics{}}
	f.server = NewServer(cfg, logging.Nop{}, f.users, f.predictions, f.metrics, fakeDB{})
	return f
}

var errBoom = errors.New("boom")
