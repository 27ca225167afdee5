package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfchat/internal/ratelimit"
	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/services/api/internal/app"
	"pdfchat/services/api/internal/security"
)

const (
	serviceName  = "pdfchat-api"
	maxJSONBytes = 1 << 20
	rateWindow   = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Redis enables rate limiting when set.
	Redis                      redis.UniversalClient
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
	CORSAllowedOrigins         []string
	TrustedProxies             *util.TrustedProxies
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	cors            *util.CORSPolicy
	trustedProxies  *util.TrustedProxies
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	refreshLimiter  *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		cors:           util.NewCORSPolicy(cfg.CORSAllowedOrigins),
		trustedProxies: cfg.TrustedProxies,
	}
	if cfg.Redis != nil {
		newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				limit = fallback
			}
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "pdfchat:api:ratelimit:"+name, limit, rateWindow)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.registerLimiter, err = newLimiter("register", cfg.RegisterRateLimitPerMinute, 5); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.refreshLimiter, err = newLimiter("refresh", cfg.RefreshRateLimitPerMinute, 20); err != nil {
			return nil, err
		}
		if s.alerter, err = security.NewAuditAlerter(cfg.Redis, "", nil); err != nil {
			return nil, fmt.Errorf("init alerter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(serviceName, util.WithSecurityHeaders(util.WithCORS(s.cors, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/public/health", s.handleHealth)
	s.mux.HandleFunc("/public/test-python-quick", s.handleTestPython)

	// auth
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)

	// pdfs & chat (auth required)
	s.mux.Handle("/api/pdfs/upload", s.authenticated(s.handleUploadPDF))
	s.mux.Handle("/api/pdfs", s.authenticated(s.handlePDFs))
	s.mux.Handle("/api/pdfs/", s.authenticated(s.handlePDFByID))
	s.mux.Handle("/api/chat/sessions", s.authenticated(s.handleSessions))
	s.mux.Handle("/api/chat/sessions/", s.authenticated(s.handleSessionMessages))
	s.mux.Handle("/api/chat/message", s.authenticated(s.handleSendMessage))

	// Unknown /api paths still require a token.
	s.mux.Handle("/api/", s.authenticated(func(w http.ResponseWriter, r *http.Request, _ domain.User) {
		writeError(w, http.StatusNotFound, "Not found")
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

func (s *Server) handleTestPython(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	health := s.app.CheckAI(r.Context())
	if !health.Reachable {
		writeJSON(w, http.StatusBadGateway, envelope{Status: statusError, Message: "Python server unreachable", Data: health})
		return
	}
	writeData(w, http.StatusOK, "Python server reachable", health)
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, msg := bearerToken(r)
		if msg != "" {
			s.audit(r, "api.authorize", "fail", "reason", msg)
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", err.Error())
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "api.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

// bearerToken returns the token or the 401 message explaining why there is none.
func bearerToken(r *http.Request) (string, string) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", "Authorization header required"
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", "Invalid authorization format"
	}
	return token, ""
}

func (s *Server) requestMeta(r *http.Request) app.RequestMeta {
	return app.RequestMeta{
		UserAgent: r.UserAgent(),
		IP:        util.ClientIP(r, s.trustedProxies),
	}
}

// auth handlers
type registerResponse struct {
	Tokens domain.TokenPair `json:"tokens"`
	User   domain.User      `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Tokens domain.TokenPair `json:"tokens"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "Too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req app.RegisterInput
	if !s.decodeJSON(w, r, "api.register", &req) {
		return
	}
	res, err := s.app.Register(r.Context(), req, s.requestMeta(r))
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", res.User.ID)
	writeData(w, http.StatusOK, "User registered successfully", registerResponse{Tokens: res.Tokens, User: res.User})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "Too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req app.LoginInput
	if !s.decodeJSON(w, r, "api.login", &req) {
		return
	}
	res, err := s.app.Login(r.Context(), req, s.requestMeta(r))
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", res.User.ID)
	writeData(w, http.StatusOK, "Login successful", registerResponse{Tokens: res.Tokens, User: res.User})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "Too many refresh attempts") {
		s.audit(r, "api.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if !s.decodeJSON(w, r, "api.refresh", &req) {
		return
	}
	tokens, err := s.app.Refresh(r.Context(), req.RefreshToken, s.requestMeta(r))
	if err != nil {
		s.audit(r, "api.refresh", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.refresh", "success")
	writeData(w, http.StatusOK, "", refreshResponse{Tokens: tokens})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "Too many logout attempts") {
		s.audit(r, "api.logout", "rate_limited")
		return
	}
	var req refreshRequest
	if !s.decodeJSON(w, r, "api.logout", &req) {
		return
	}
	access, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), req.RefreshToken, access); err != nil {
		s.audit(r, "api.logout", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.logout", "success")
	writeData(w, http.StatusOK, "Logged out successfully", nil)
}

// decodeJSON reads a bounded JSON body. An empty body decodes to the zero value.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, event string, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	s.audit(r, event, "fail", "reason", "invalid_json")
	writeError(w, http.StatusBadRequest, "Invalid JSON body")
	return false
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	seconds := int((decision.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprint(seconds))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	res, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "err", err)
		return
	}
	if res.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"window", res.Rule.Window.String(),
		)
	}
}

// PurgeLoop deletes expired refresh tokens every interval until ctx ends.
func (s *Server) PurgeLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.app.PurgeExpiredRefreshTokens(ctx)
			if err != nil {
				util.LoggerFromContext(ctx).Warn("refresh token cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				util.LoggerFromContext(ctx).Info("refresh token cleanup", "deleted", n)
			}
		}
	}
}
