// Package api provides the bridge's REST surface: a stateless façade that
// performs one Gateway operation per HTTP request.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jcc-labs/jcc/bridge/internal/auth"
	"github.com/jcc-labs/jcc/bridge/internal/config"
	"github.com/jcc-labs/jcc/pkg/gateway"
	"github.com/jcc-labs/jcc/pkg/protocol"
)

const (
	defaultHistoryLimit = gateway.DefaultHistoryLimit
	maxHistoryLimit     = 1000
	noResponseText      = "No response received."
)

// Server is the bridge HTTP server.
type Server struct {
	backend      Backend
	validator    auth.Validator
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	rl           *rateLimiter
}

// NewServer creates the bridge API server.
func NewServer(b Backend, v auth.Validator, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		backend:      b,
		validator:    v,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeaders...)
	mux.Use(cors(cfg.Server.AllowedOrigins))
	mux.Use(srv.requireBearer)
	mux.Use(rateLimitMiddleware(srv.rl))

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	mux.Get("/health", srv.handleHealth)
	mux.Get("/history", srv.handleHistory)
	mux.Post("/chat", srv.handleChat)

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of rate limiter buckets.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"transport": s.backend.Transport(),
		"uptime":    time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

type chatRequest struct {
	Content    string `json:"content"`
	SessionKey string `json:"sessionKey"`
	GWToken    string `json:"gwToken"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = protocol.DefaultSessionKey
	}
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	text, err := s.backend.Chat(r.Context(), sessionKey, req.Content, req.GWToken)
	if err != nil {
		s.logger.Error("chat failed", "session", sessionKey, "elapsed", time.Since(start), "error", err)
		s.writeGatewayError(w, err)
		return
	}
	if text == "" {
		text = noResponseText
	}
	s.logger.Info("chat completed", "session", sessionKey, "elapsed", time.Since(start), "chars", len(text))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": text})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionKey := q.Get("sessionKey")
	if sessionKey == "" {
		sessionKey = protocol.DefaultSessionKey
	}
	if err := protocol.ValidateSessionKey(sessionKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := s.backend.History(r.Context(), sessionKey, limit, q.Get("gwToken"))
	if err != nil {
		s.logger.Error("history failed", "session", sessionKey, "error", err)
		s.writeGatewayError(w, err)
		return
	}
	if msgs == nil {
		msgs = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

// writeGatewayError maps a failed Gateway operation to a response.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	if errors.Is(err, protocol.ErrInvalidSessionKey) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
