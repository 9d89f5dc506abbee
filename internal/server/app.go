// Package server wires the configuration, database, services and the HTTP
// and gRPC servers together and runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/auth"
	"github.com/dmitrijs2005/diacheck/internal/server/config"
	"github.com/dmitrijs2005/diacheck/internal/server/httpapi"
	"github.com/dmitrijs2005/diacheck/internal/server/mlclient"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/diacheck/internal/server/services"

	gs "github.com/dmitrijs2005/diacheck/internal/server/grpc"
)

type App struct {
	config               *config.Config
	logger               logging.Logger
	db                   *sql.DB
	userService          *services.UserService
	predictionService    *services.PredictionService
	healthMetricsService *services.HealthMetricsService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(c.LogBackend, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	var notifier services.Notifier
	if c.SMTPAddr != "" {
		notifier = services.NewSMTPNotifier(c.SMTPAddr, c.SMTPUser, c.SMTPPassword, c.SMTPFrom)
	} else {
		notifier = services.NewLogNotifier(logger)
	}

	sessions := services.NewSessionService(db, rm, c, logger)
	us := services.NewUserService(db, rm, sessions, auth.NewBcryptHasher(c.BcryptCost),
		notifier, services.NewS3Storage(c), c, logger)
	ps := services.NewPredictionService(db, rm, mlclient.New(c.MLBaseURL, c.MLTimeout), logger)
	hs := services.NewHealthMetricsService(db, rm, logger)

	return &App{
		config: c, logger: logger, db: db,
		userService: us, predictionService: ps, healthMetricsService: hs,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config, app.logger, app.userService, app.predictionService, app.healthMetricsService, app.db)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.EndpointAddrGRPC, app.logger, app.db)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

// Run blocks until a shutdown signal arrives or a server fails, then closes
// the database.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database failed", "error", err)
	}
	app.logger.Info(ctx, "App stopped")

	if z, ok := app.logger.(*logging.ZapLogger); ok {
		_ = z.Sync()
	}
}
