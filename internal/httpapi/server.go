// Package httpapi is the HTTP boundary of the gateway. Routes map 1:1 to
// gateway operations; the credential travels in the X-API-Key header.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
	"github.com/SomaPrasanth/command-gateway-backend/internal/gateway"
)

const maxBodySize = 1 << 20 // 1MB

// Server serves the gateway API over HTTP.
type Server struct {
	host     string
	port     int
	gw       *gateway.Gateway
	logger   *slog.Logger
	limiters *keyLimiters
	server   *http.Server
}

type Config struct {
	Host               string
	Port               int
	Gateway            *gateway.Gateway
	Logger             *slog.Logger
	RateLimitPerMinute int // 0 disables per-credential limiting
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:     cfg.Host,
		port:     cfg.Port,
		gw:       cfg.Gateway,
		logger:   cfg.Logger,
		limiters: newKeyLimiters(cfg.RateLimitPerMinute),
	}
}

// Handler returns the route mux, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /commands/execute", s.handleExecute)
	mux.HandleFunc("POST /rules", s.handleCreateRule)
	mux.HandleFunc("GET /users/me", s.handleProfile)
	mux.HandleFunc("GET /audit-logs", s.handleAuditLogs)
	mux.HandleFunc("POST /users", s.handleCreateAccount)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withRequestID(mux)
}

// Start runs the server until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("gateway API started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type executeRequest struct {
	Command string `json:"command"`
}

type ruleRequest struct {
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

type accountRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if !s.limiters.allow(apiKey) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	result, err := s.gw.ExecuteCommand(r.Context(), apiKey, req.Command)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rule, err := s.gw.CreateRule(r.Context(), r.Header.Get("X-API-Key"),
		req.Pattern, domain.RuleAction(req.Action), req.Description)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.gw.GetProfile(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	logs, err := s.gw.ListAuditLogs(r.Context(), r.Header.Get("X-API-Key"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := s.gw.CreateAccount(r.Context(), r.Header.Get("X-API-Key"),
		req.Username, domain.Role(req.Role))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps the domain error taxonomy to HTTP statuses. Anything
// outside the taxonomy is a transaction or storage failure: logged in full,
// surfaced generically.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusForbidden, domain.ErrInsufficientCredits.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
	case errors.Is(err, domain.ErrInvalidPattern):
		writeError(w, http.StatusBadRequest, domain.ErrInvalidPattern.Error())
	case errors.Is(err, domain.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, domain.ErrUsernameTaken.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
