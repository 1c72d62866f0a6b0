package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sessionworks/broker/auth"
	"github.com/sessionworks/broker/core/protocol"
	"github.com/sessionworks/broker/observability"
)

type contextKey int

const principalKey contextKey = iota

// principalFrom returns the authenticated principal stored by authenticate.
func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// authenticate resolves the caller's credential and stores the principal in
// the request context. Browser WebSocket clients cannot set headers, so a
// bearer token is also accepted as the access_token query parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := auth.BearerFromHeader(r.Header.Get("Authorization"))
		if credential == "" {
			credential = r.URL.Query().Get("access_token")
		}

		principal, err := s.gate.Authenticate(credential)
		if err != nil {
			s.emitAuthRejected(r)
			writeError(w, http.StatusUnauthorized, protocol.CodeUnauthorized, "invalid or missing credential")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireService restricts a route to service-token callers.
func (s *Server) requireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r.Context())
		if !ok || principal.Kind != auth.PrincipalService {
			writeError(w, http.StatusForbidden, protocol.CodeUnauthorized, "service credential required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) emitAuthRejected(r *http.Request) {
	if s.dispatch == nil {
		return
	}
	s.dispatch.Emit(observability.EventAuthRejected, observability.LevelWarning, "server", map[string]any{
		"path":   r.URL.Path,
		"remote": r.RemoteAddr,
	})
}

type errorBody struct {
	Code    protocol.Code `json:"code"`
	Message string        `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code protocol.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
