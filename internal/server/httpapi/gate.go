package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/server/services"
)

// IdentityFrom returns the caller attached by the gate, if any.
func IdentityFrom(ctx context.Context) (*services.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*services.Identity)
	return id, ok && id != nil
}

// bearerToken extracts the token from an Authorization header. present is
// false when the header is missing altogether.
func bearerToken(r *http.Request) (token string, present bool, err error) {
	h := r.Header.Get(common.AuthorizationHeader)
	if h == "" {
		return "", false, nil
	}
	if !strings.HasPrefix(h, common.BearerPrefix) {
		return "", true, common.ErrInvalidToken
	}
	token = strings.TrimSpace(h[len(common.BearerPrefix):])
	if token == "" {
		return "", true, common.ErrInvalidToken
	}
	return token, true, nil
}

// gate resolves the bearer token into an Identity on the request context.
// When required is false a request without an Authorization header passes
// through anonymously; a header that is present but malformed or invalid is
// rejected in both modes.
func (s *Server) gate(required bool, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present, err := bearerToken(r)
		if !present {
			if required {
				writeJSON(w, http.StatusUnauthorized, errorBody{
					Error:   "unauthorized",
					Message: "Access token is required",
				})
				return
			}
			next(w, r)
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		id, err := s.users.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		go s.touch(context.WithoutCancel(r.Context()), id)

		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// touch records session activity off the request path.
func (s *Server) touch(ctx context.Context, id *services.Identity) {
	ctx, cancel := context.WithTimeout(ctx, touchTimeout)
	defer cancel()
	if err := s.users.Touch(ctx, id); err != nil {
		s.logger.Warn(ctx, "session touch failed", "session_id", id.Session.ID, "error", err)
	}
}

// caller returns the identity of an authenticated request. Only handlers
// behind a required gate call it.
func caller(r *http.Request) *services.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}
