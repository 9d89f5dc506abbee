// Package grpc runs the gRPC health service used by orchestrators to check
// the API process.
package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry that tracks database reachability. The
// empty service name reports on the process as a whole.
const ServiceName = "diacheck"

const defaultCheckInterval = 10 * time.Second

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthServer struct {
	address       string
	logger        logging.Logger
	db            Pinger
	health        *health.Server
	checkInterval time.Duration
}

func NewHealthServer(a string, l logging.Logger, db Pinger) *HealthServer {
	return &HealthServer{
		address:       a,
		logger:        l.With("module", "grpc_server"),
		db:            db,
		health:        health.NewServer(),
		checkInterval: defaultCheckInterval,
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *HealthServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve serves on listen until ctx is cancelled. On shutdown every service is
// switched to NOT_SERVING before the server drains.
func (s *HealthServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.check(ctx)

	go func() {
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(ctx, "Stopping gRPC server...")
				s.health.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				s.check(ctx)
			}
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	return srv.Serve(listen)
}

// check updates ServiceName from a database ping.
func (s *HealthServer) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.PingContext(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		s.logger.Warn(ctx, "database ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}
