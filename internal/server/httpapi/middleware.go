package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
	routeKey
)

const unmatchedRoute = "unmatched"

// routeLabel carries the matched route template from inside the router back
// out to accessLog.
type routeLabel struct {
	template string
}

// routeTemplate returns the template of the route mux matched for r.
func routeTemplate(r *http.Request) string {
	if cr := mux.CurrentRoute(r); cr != nil {
		if tpl, err := cr.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return unmatchedRoute
}

// recordRoute runs inside the router and fills the label accessLog placed on
// the context.
func recordRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label, ok := r.Context().Value(routeKey).(*routeLabel); ok {
			label.template = routeTemplate(r)
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// RequestIDFrom returns the request id stored by the request id middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID propagates X-Request-ID, generating one when the client sent none.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(common.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(common.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func accessLog(l logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			label := &routeLabel{template: unmatchedRoute}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey, label)))

			l.Info(r.Context(), "http request",
				"method", r.Method,
				"route", label.template,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", RequestIDFrom(r.Context()),
			)
		})
	}
}

// recoveryLogger adapts logging.Logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger logging.Logger
}

func (rl recoveryLogger) Println(v ...interface{}) {
	rl.logger.Error(context.Background(), "panic recovered", "panic", fmt.Sprint(v...))
}

// clientInfo collects the request metadata stored with sessions and
// predictions.
func clientInfo(r *http.Request) models.DeviceInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return models.DeviceInfo{
		UserAgent:      r.UserAgent(),
		IP:             ip,
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}
