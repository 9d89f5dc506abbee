package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/diacheck/internal/common"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Details []common.FieldError `json:"details,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}

var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{common.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{common.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{common.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{common.ErrAccountLocked, http.StatusLocked, "account_locked"},
	{common.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{common.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{common.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{common.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token"},
	{common.ErrInvalidOrExpiredToken, http.StatusBadRequest, "invalid_reset_token"},
	{common.ErrInvalidPassword, http.StatusBadRequest, "invalid_password"},
	{common.ErrNotFound, http.StatusNotFound, "not_found"},
	{common.ErrPredictionUnavailable, http.StatusServiceUnavailable, "prediction_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// describeError maps a service error to its status code and body. Unknown
// errors become a bare 500; known reports whether err matched a kind.
func describeError(err error) (status int, body errorBody, known bool) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		body = errorBody{Error: k.code, Message: k.err.Error()}
		var verr *common.ValidationError
		if errors.As(err, &verr) {
			body.Details = verr.Fields
		}
		return k.status, body, true
	}
	return http.StatusInternalServerError, errorBody{
		Error:   "internal_error",
		Message: "Internal server error",
	}, false
}

// writeError writes the response describeError chooses. Errors that are
// neither known kinds nor common.ErrInternal are logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body, known := describeError(err)
	if !known && !errors.Is(err, common.ErrInternal) {
		s.logger.Error(r.Context(), "unhandled error", "error", err, "route", routeTemplate(r))
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v. Malformed bodies are reported as
// validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var verr common.ValidationError
		if errors.Is(err, io.EOF) {
			verr.Add("body", "Request body is required")
		} else {
			verr.Add("body", "Invalid JSON payload")
		}
		return verr.Err()
	}
	return nil
}
