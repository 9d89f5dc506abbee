package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) routes(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(recordRoute, s.metrics.Middleware)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	a := r.PathPrefix("/auth").Subrouter()
	a.Handle("/register", s.rateLimited(s.register)).Methods(http.MethodPost)
	a.Handle("/login", s.rateLimited(s.login)).Methods(http.MethodPost)
	a.Handle("/forgot-password", s.rateLimited(s.forgotPassword)).Methods(http.MethodPost)
	a.Handle("/reset-password", s.rateLimited(s.resetPassword)).Methods(http.MethodPost)
	a.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	a.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	a.Handle("/me", s.gate(true, s.me)).Methods(http.MethodGet)
	a.Handle("/profile", s.gate(true, s.updateProfile)).Methods(http.MethodPut)
	a.Handle("/profile/picture", s.gate(true, s.profilePicture)).Methods(http.MethodPost)
	a.Handle("/change-password", s.gate(true, s.changePassword)).Methods(http.MethodPut)

	u := r.PathPrefix("/user").Subrouter()
	u.Handle("/dashboard", s.gate(true, s.dashboard)).Methods(http.MethodGet)
	u.Handle("/stats", s.gate(true, s.userStats)).Methods(http.MethodGet)
	u.Handle("/health-metrics", s.gate(true, s.recordHealthMetrics)).Methods(http.MethodPost)
	u.Handle("/health-metrics", s.gate(true, s.listHealthMetrics)).Methods(http.MethodGet)

	p := r.PathPrefix("/predictions").Subrouter()
	p.HandleFunc("/model-info", s.modelInfo).Methods(http.MethodGet)
	p.HandleFunc("/ml-health", s.modelHealth).Methods(http.MethodGet)
	p.HandleFunc("/stats", s.globalStats).Methods(http.MethodGet)
	p.Handle("/batch", s.gate(false, s.batchPredict)).Methods(http.MethodPost)
	p.Handle("", s.gate(false, s.predict)).Methods(http.MethodPost)
	p.Handle("", s.gate(true, s.history)).Methods(http.MethodGet)
	p.Handle("/{id}", s.gate(true, s.getPrediction)).Methods(http.MethodGet)
	p.Handle("/{id}", s.gate(true, s.deletePrediction)).Methods(http.MethodDelete)

	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
		handlers.AllowCredentials(),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: s.logger}),
		handlers.PrintRecoveryStack(false),
	)

	return recovery(requestID(accessLog(s.logger)(cors(r))))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "connected", Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn(ctx, "health check: database unreachable", "error", err)
		resp.Status, resp.Database = "degraded", "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
