package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
	}
	return serve(f, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type sessionBody struct {
	Message      string `json:"message"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

var registration = map[string]any{
	"email": "a@x.com", "password": "Abcd123!", "firstName": "Ann", "lastName": "Lee",
}

func TestScenarioA_RegisterThenMe(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registration)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode[sessionBody](t, rec)
	require.NotEmpty(t, reg.Token)
	assert.NotEmpty(t, reg.RefreshToken)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = f.do(t, http.MethodGet, "/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode[sessionBody](t, rec)
	assert.Equal(t, "a@x.com", me.User.Email)

	select {
	case id := <-f.users.touched:
		assert.Equal(t, "sess-"+reg.Token, id)
	case <-time.After(time.Second):
		t.Fatal("session was not touched")
	}
}

func TestScenarioB_LockedAfterFiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRateLimitPerWindow = 100
	f := newFixture(cfg)
	f.do(t, http.MethodPost, "/auth/register", "", registration)

	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "Wrong123!"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_credentials", decode[errorBody](t, rec).Error)
	}

	rec := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "Abcd123!"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", decode[errorBody](t, rec).Error)
}

func TestScenarioC_ForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "ghost@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, forgotPasswordMessage, decode[messageBody](t, rec).Message)
	assert.Zero(t, f.users.resets)
}

func TestScenarioD_LogoutThenReuse(t *testing.T) {
	f := newFixture(nil)
	reg := decode[sessionBody](t, f.do(t, http.MethodPost, "/auth/register", "", registration))

	rec := f.do(t, http.MethodPost, "/auth/logout", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/logout", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/me", reg.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_RequiresVerifiableToken(t *testing.T) {
	f := newFixture(nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/auth/logout", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/auth/logout", "forged", nil).Code)
}

func TestRegister_Errors(t *testing.T) {
	f := newFixture(nil)
	f.do(t, http.MethodPost, "/auth/register", "", registration)

	rec := f.do(t, http.MethodPost, "/auth/register", "", registration)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "b@x.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "validation_failed", body.Error)
	require.Len(t, body.Details, 1)
	assert.Equal(t, "password", body.Details[0].Field)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefresh(t *testing.T) {
	f := newFixture(nil)
	reg := decode[sessionBody](t, f.do(t, http.MethodPost, "/auth/register", "", registration))

	rec := f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": reg.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[sessionBody](t, rec)
	assert.NotEqual(t, reg.Token, next.Token)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": reg.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decode[errorBody](t, rec).Error)
}

func TestResetAndChangePassword(t *testing.T) {
	f := newFixture(nil)
	reg := decode[sessionBody](t, f.do(t, http.MethodPost, "/auth/register", "", registration))

	rec := f.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"token": "bad", "password": "N3w!Password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_reset_token", decode[errorBody](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{"token": "good-reset", "password": "N3w!Password"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/auth/change-password", reg.Token, map[string]string{"currentPassword": "nope", "newPassword": "N3w!Password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_password", decode[errorBody](t, rec).Error)

	rec = f.do(t, http.MethodPut, "/auth/change-password", reg.Token, map[string]string{"currentPassword": "Abcd123!", "newPassword": "N3w!Password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfileEndpoints(t *testing.T) {
	f := newFixture(nil)
	reg := decode[sessionBody](t, f.do(t, http.MethodPost, "/auth/register", "", registration))

	rec := f.do(t, http.MethodPut, "/auth/profile", reg.Token, map[string]any{"firstName": "Anna", "height": 170})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		User    struct{ FirstName string } `json:"user"`
		Profile struct {
			Height float64 `json:"height"`
		} `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Anna", body.User.FirstName)
	assert.Equal(t, 170.0, body.Profile.Height)

	rec = f.do(t, http.MethodPost, "/auth/profile/picture", reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	up := decode[uploadResponse](t, rec)
	assert.Equal(t, "https://s3.local/"+up.Key, up.UploadURL)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPut, "/auth/profile", "", map[string]any{}).Code)
}

func TestRateLimit_AuthEndpoints(t *testing.T) {
	f := newFixture(nil)

	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "a@x.com"})
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	rec := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "x"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Refresh is not limited.
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(nil)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)

	f.server.db = fakeDB{err: errBoom}
	rec = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndRequestID(t *testing.T) {
	f := newFixture(nil)
	f.do(t, http.MethodGet, "/health", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set(common.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(common.RequestIDHeader))
	assert.Contains(t, rec.Body.String(), `diacheck_http_requests_total{method="GET",route="/health",status="200"} 1`)

	rec = f.do(t, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get(common.RequestIDHeader))
}

func TestAccessLog_UsesRouteTemplate(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(nil)
	f.server = NewServer(testConfig(), logging.NewSlogJSON(&buf, "info"), f.users, f.predictions, f.metrics, fakeDB{})
	reg := decode[sessionBody](t, f.do(t, http.MethodPost, "/auth/register", "", registration))

	rec := f.do(t, http.MethodGet, "/predictions/"+knownPredictionID, reg.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.do(t, http.MethodGet, "/no/such/path", "", nil)

	logs := buf.String()
	assert.Contains(t, logs, `"route":"/predictions/{id}"`)
	assert.Contains(t, logs, `"route":"/auth/register"`)
	assert.Contains(t, logs, `"route":"unmatched"`)
	assert.NotContains(t, logs, knownPredictionID)
	assert.NotContains(t, logs, "/no/such/path")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(nil)
	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Run(t *testing.T) {
	cfg := testConfig()
	cfg.EndpointAddrHTTP = "127.0.0.1:0"
	f := newFixture(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after context cancel")
	}
}

func TestServer_Run_BadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.EndpointAddrHTTP = "127.0.0.1:99999"
	f := newFixture(cfg)
	assert.Error(t, f.server.Run(context.Background()))
}
