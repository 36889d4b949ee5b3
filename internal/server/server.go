// Package server exposes the HTTP API: OTP auth flows, admin user
// management, and forecast upload/browse endpoints.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"ediforecast/internal/app"
	"ediforecast/internal/ratelimit"
	"ediforecast/internal/security"
	"ediforecast/internal/session"
	"ediforecast/internal/util"
	"ediforecast/pkg/domain"
	"ediforecast/pkg/edi"
	"ediforecast/pkg/store"
)

const maxUploadBytes = 32 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Sessions *session.Manager

	// Optional hardening. A nil limiter disables login-code rate limiting,
	// a nil alerter disables burst alerts.
	LoginCodeLimiter *ratelimit.FixedWindowLimiter
	Alerter          *security.AuditAlerter
	Notifier         app.Notifier
	TrustedProxies   *util.TrustedProxies
}

// Server exposes the HTTP endpoints.
type Server struct {
	app              *app.App
	sessions         *session.Manager
	loginCodeLimiter *ratelimit.FixedWindowLimiter
	alerter          *security.AuditAlerter
	notifier         app.Notifier
	trustedProxies   *util.TrustedProxies
	mux              *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	s := &Server{
		app:              cfg.App,
		sessions:         cfg.Sessions,
		loginCodeLimiter: cfg.LoginCodeLimiter,
		alerter:          cfg.Alerter,
		notifier:         cfg.Notifier,
		trustedProxies:   cfg.TrustedProxies,
		mux:              http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/activate", s.handleActivate)
	s.mux.HandleFunc("/auth/login/code", s.handleLoginCode)
	s.mux.HandleFunc("/auth/login/verify", s.handleLoginVerify)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	// admin
	s.mux.Handle("/auth/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/auth/admin/users/", s.adminOnly(s.handleAdminUserByEmail))

	// forecasts (auth required)
	s.mux.Handle("/forecasts", s.authenticated(s.handleForecasts))
	s.mux.Handle("/forecasts/parse", s.authenticated(s.handleParseForecast))
	s.mux.Handle("/forecasts/", s.authenticated(s.handleForecastByName))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "auth.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			s.audit(r, "auth.admin.authorize", "fail", "email", user.Email)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return domain.User{}, false
	}
	user, found, err := s.app.GetUser(claims.Email)
	if err != nil || !found || !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Register(req.Name, req.Surname, req.Email); err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.register", "success")
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "registration received, check your inbox for the activation code",
	})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req codeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Activate(req.Email, req.Code); err != nil {
		s.audit(r, "auth.activate", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.activate", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "account activated"})
}

func (s *Server) handleLoginCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req emailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if s.loginCodeLimiter != nil && !s.loginCodeLimiter.Allow(strings.ToLower(strings.TrimSpace(req.Email))) {
		s.audit(r, "auth.login.code", "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many login code requests, try again later")
		return
	}
	if err := s.app.SendLoginCode(req.Email); err != nil {
		s.audit(r, "auth.login.code", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.login.code", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "login code sent"})
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req codeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.VerifyLogin(req.Email, req.Code)
	if err != nil {
		s.audit(r, "auth.login.verify", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	token, expiresAt, err := s.sessions.Issue(user.Email, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "auth.login.verify", "success", "email", user.Email)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		User:      publicUser(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, publicUser(user))
	case http.MethodPatch:
		var updates map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&updates); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(updates) == 0 {
			writeError(w, http.StatusBadRequest, "at least one field is required")
			return
		}
		// Self-service edits never change role or active status.
		if err := s.app.UpdateUser(user.Email, updates, false); err != nil {
			writeAppError(w, err)
			return
		}
		updated, found, err := s.app.GetUser(user.Email)
		if err != nil || !found {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, publicUser(updated))
	default:
		methodNotAllowed(w)
	}
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]userView, 0, len(users))
	for _, u := range users {
		items = append(items, publicUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleAdminUserByEmail(w http.ResponseWriter, r *http.Request, _ domain.User) {
	email := strings.TrimPrefix(r.URL.Path, "/auth/admin/users/")
	if email == "" || strings.Contains(email, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var updates map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "at least one field is required")
		return
	}
	if err := s.app.UpdateUser(email, updates, true); err != nil {
		writeAppError(w, err)
		return
	}
	updated, found, err := s.app.GetUser(email)
	if err != nil || !found {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, publicUser(updated))
}

// forecast handlers
func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request, _ domain.User) {
	switch r.Method {
	case http.MethodGet:
		customer := strings.TrimSpace(r.URL.Query().Get("customer"))
		if customer != "" && !domain.ValidCustomer(customer) {
			writeError(w, http.StatusBadRequest, "unknown customer")
			return
		}
		oldestFirst := r.URL.Query().Get("order") == "asc"
		docs, err := s.app.ListForecasts(customer, oldestFirst)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodPost:
		customer, filename, content, ok := s.readUpload(w, r)
		if !ok {
			return
		}
		records, err := edi.Parse(content)
		if err != nil {
			writeParseError(w, err)
			return
		}
		result, err := s.app.SaveForecast(customer, filename, content, records)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	default:
		methodNotAllowed(w)
	}
}

// handleParseForecast previews an upload without persisting anything.
func (s *Server) handleParseForecast(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	_, filename, content, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	records, err := edi.Parse(content)
	if err != nil {
		writeParseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"original_filename": filename,
		"records":           records,
		"count":             len(records),
	})
}

func (s *Server) handleForecastByName(w http.ResponseWriter, r *http.Request, user domain.User) {
	name := strings.TrimPrefix(r.URL.Path, "/forecasts/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.LoadForecast(name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if user.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := s.app.DeleteForecast(name); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// readUpload extracts the customer field and file content from a multipart
// upload. On failure it writes the error response and returns ok=false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (customer, filename string, content []byte, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return "", "", nil, false
	}
	customer = strings.TrimSpace(r.FormValue("customer"))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return "", "", nil, false
	}
	defer file.Close()
	content, err = io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return "", "", nil, false
	}
	return customer, header.Filename, content, true
}

// audit logs a security event and feeds the burst alerter. A triggered alert
// escalates to an operational notification.
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
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
	} else {
		slog.Warn("security_event", logAttrs...)
	}

	result, err := s.alerter.Observe(event, outcome, ip)
	if err != nil {
		slog.Warn("alerter observe failed", "event", event, "err", err)
		return
	}
	if !result.Triggered {
		return
	}
	slog.Error("security_alert",
		"event", event,
		"outcome", outcome,
		"ip", ip,
		"count", result.Count,
		"threshold", result.Threshold,
	)
	if s.notifier == nil {
		return
	}
	message := fmt.Sprintf(
		"%s %s from %s: %d events in %s (threshold %d)",
		event, outcome, ip, result.Count, result.Window, result.Threshold,
	)
	if err := s.notifier.SendNotification("Security alert", message, 5, []string{"rotating_light"}); err != nil {
		slog.Warn("security alert notification failed", "err", err)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type registerRequest struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
	User      userView `json:"user"`
}

// userView is the API shape of a user: no codes, no expiry timestamps.
type userView struct {
	Name      string          `json:"name"`
	Surname   string          `json:"surname"`
	Email     string          `json:"email"`
	Company   string          `json:"company,omitempty"`
	Role      domain.UserRole `json:"role"`
	IsActive  bool            `json:"is_active"`
	CreatedAt int64           `json:"created_at"`
}

func publicUser(u domain.User) userView {
	return userView{
		Name:      u.Name,
		Surname:   u.Surname,
		Email:     u.Email,
		Company:   u.Company,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.Unix(),
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// writeAppError maps application errors onto HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, app.ErrDomainNotAllowed),
		errors.Is(err, app.ErrUnknownCustomer),
		errors.Is(err, app.ErrFilenameRequired),
		errors.Is(err, app.ErrNoRecords):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrUserNotFound), errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInactiveAccount):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrInvalidCode), errors.Is(err, app.ErrCodeExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeParseError maps forecast file parse errors onto 422 responses so the
// frontend can tell a bad file from a bad request.
func writeParseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, edi.ErrInvalidEncoding),
		errors.Is(err, edi.ErrInsufficientData),
		errors.Is(err, edi.ErrNoDataRows):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("parse failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
