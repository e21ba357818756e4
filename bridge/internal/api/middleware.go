package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jcc-labs/jcc/bridge/internal/auth"
)

type ctxKey struct{}

// requireBearer guards every route. It is mounted ahead of routing, so an
// unauthenticated caller gets 401 for unknown paths too.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		id, err := s.validator.Validate(r.Context(), token)
		if err != nil {
			s.logger.Debug("bearer rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(ctxKey{}).(*auth.Identity)
	return id
}

var securityHeaders = []func(http.Handler) http.Handler{
	chimw.SetHeader("X-Content-Type-Options", "nosniff"),
	chimw.SetHeader("X-Frame-Options", "DENY"),
	chimw.SetHeader("Referrer-Policy", "no-referrer"),
}

// cors answers preflight requests before auth runs.
func cors(origins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			switch origin := r.Header.Get("Origin"); {
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
