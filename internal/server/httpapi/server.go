// Package httpapi exposes the REST API: the /auth and /user endpoints, the
// prediction proxy, health and metrics. Error kinds returned by services are mapped to
// status codes here and nowhere else.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/config"
	"github.com/dmitrijs2005/diacheck/internal/server/mlclient"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/services"
)

// UserService is the account API consumed by the auth handlers and the gate.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput, device models.DeviceInfo) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResult, error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, refreshToken string, device models.DeviceInfo) (*services.TokenPair, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	ChangePassword(ctx context.Context, userID, current, next string) error
	Authenticate(ctx context.Context, token string) (*services.Identity, error)
	Touch(ctx context.Context, id *services.Identity) error
	Me(ctx context.Context, userID string) (*services.Account, error)
	UpdateProfile(ctx context.Context, userID string, in services.ProfileInput) (*models.User, *models.HealthProfile, error)
	ProfilePictureUploadURL(ctx context.Context, userID string) (key, uploadURL string, err error)
	Dashboard(ctx context.Context, userID string) (*services.Dashboard, error)
	Stats(ctx context.Context, userID string, days int) (*services.UserStats, error)
}

// PredictionService is the prediction API consumed by the prediction handlers.
type PredictionService interface {
	Predict(ctx context.Context, userID *string, in models.PredictionInput, client models.DeviceInfo) (*services.PredictionResult, error)
	History(ctx context.Context, userID string, limit, offset int) ([]*models.Prediction, int, error)
	Get(ctx context.Context, userID, id string) (*models.Prediction, error)
	Delete(ctx context.Context, userID, id string) error
	Info() services.ModelInfo
	Batch(ctx context.Context, userID *string, inputs []models.PredictionInput, client models.DeviceInfo) ([]services.BatchItem, error)
	ModelHealth(ctx context.Context) mlclient.Health
	GlobalStats(ctx context.Context) (*models.GlobalPredictionStats, []models.RecentPrediction, error)
}

// HealthMetricsService records and lists the caller's vitals.
type HealthMetricsService interface {
	Record(ctx context.Context, userID string, in services.HealthMetricInput) (*models.HealthMetric, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.HealthMetric, int, error)
}

// Pinger reports database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

const (
	shutdownTimeout = 10 * time.Second
	touchTimeout    = 5 * time.Second
)

type Server struct {
	address       string
	logger        logging.Logger
	users         UserService
	predictions   PredictionService
	healthMetrics HealthMetricsService
	db            Pinger
	metrics       *Metrics
	limiter       *RateLimiter
	handler       http.Handler
	writeTimeout  time.Duration
}

func NewServer(cfg *config.Config, l logging.Logger, us UserService, ps PredictionService, hs HealthMetricsService, db Pinger) *Server {
	s := &Server{
		address:       cfg.EndpointAddrHTTP,
		logger:        l.With("module", "http_server"),
		users:         us,
		predictions:   ps,
		healthMetrics: hs,
		db:            db,
		metrics:       NewMetrics(),
		limiter:       NewRateLimiter(cfg.AuthRateLimitPerWindow, cfg.AuthRateLimitWindow),
		writeTimeout:  cfg.MLTimeout + 15*time.Second,
	}
	s.handler = s.routes(cfg.AllowedOrigins)
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(sctx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
