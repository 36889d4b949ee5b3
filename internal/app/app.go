// Package app holds the core application service: the OTP-based user
// directory flows and the forecast document flows. It owns no HTTP concerns;
// the server package maps its errors onto status codes.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ediforecast/pkg/domain"
	"ediforecast/pkg/store"
)

const (
	// Activation codes expire quickly; login codes last a full workday.
	// The two TTLs are independent per-flow policies, not one shared value.
	activationCodeTTL = 10 * time.Minute
	loginCodeTTL      = 480 * time.Minute
)

// Mailer delivers transactional email. Send failures are reported but never
// abort the calling flow.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

// Notifier delivers operational push notifications, fire-and-forget.
type Notifier interface {
	SendNotification(title, message string, priority int, tags []string) error
}

// Config wires the application service dependencies.
type Config struct {
	Users          *store.UserDirectory
	Forecasts      *store.ForecastStore
	Mailer         Mailer
	Notifier       Notifier
	AllowedDomains []string
}

// App implements the auth and forecast use cases on top of the JSON stores.
type App struct {
	users          *store.UserDirectory
	forecasts      *store.ForecastStore
	mailer         Mailer
	notifier       Notifier
	allowedDomains []string
	now            func() time.Time
}

// New constructs the application service.
func New(cfg Config) (*App, error) {
	if cfg.Users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if cfg.Forecasts == nil {
		return nil, fmt.Errorf("forecast store is required")
	}
	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		domains = append(domains, d)
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("at least one allowed email domain is required")
	}
	return &App{
		users:          cfg.Users,
		forecasts:      cfg.Forecasts,
		mailer:         cfg.Mailer,
		notifier:       cfg.Notifier,
		allowedDomains: domains,
		now:            time.Now,
	}, nil
}

// Register creates an inactive user and emails its activation code. The user
// record is durably created even when the email cannot be sent: creation is
// at-least-once, notification is best-effort.
func (a *App) Register(name, surname, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	if !a.domainAllowed(email) {
		return ErrDomainNotAllowed
	}

	code, err := generateOTP(otpLength)
	if err != nil {
		return fmt.Errorf("generate activation code: %w", err)
	}
	now := a.now()
	user := domain.User{
		Name:           strings.TrimSpace(name),
		Surname:        strings.TrimSpace(surname),
		Email:          email,
		Role:           domain.RoleSales,
		IsActive:       false,
		ActivationCode: code,
		OTPExpiresAt:   now.Add(activationCodeTTL),
		CreatedAt:      now,
	}
	if err := a.users.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("create user: %w", err)
	}

	subject := "Codice di attivazione Forecast WebApp"
	body := fmt.Sprintf(
		"Ciao %s %s,\n\nIl tuo codice di attivazione è: %s\nQuesto codice scadrà tra 10 minuti.",
		user.Name, user.Surname, code,
	)
	a.sendEmail(email, subject, body)
	return nil
}

// Activate flips the user to active when the supplied code matches and its
// window has not lapsed. Calling it again with a still-valid code succeeds
// idempotently.
func (a *App) Activate(email, code string) error {
	err := a.users.UpdateUser(normalizeEmail(email), func(u *domain.User) error {
		if u.ActivationCode != code {
			return ErrInvalidCode
		}
		if a.now().After(u.OTPExpiresAt) {
			return ErrCodeExpired
		}
		u.IsActive = true
		return nil
	})
	if errors.Is(err, store.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

// SendLoginCode mints a fresh login OTP with a workday expiry and emails it.
func (a *App) SendLoginCode(email string) error {
	email = normalizeEmail(email)
	var name, code string
	err := a.users.UpdateUser(email, func(u *domain.User) error {
		if !u.IsActive {
			return ErrInactiveAccount
		}
		otp, err := generateOTP(otpLength)
		if err != nil {
			return fmt.Errorf("generate login code: %w", err)
		}
		u.LoginCode = otp
		u.OTPExpiresAt = a.now().Add(loginCodeTTL)
		name = u.Name
		code = otp
		return nil
	})
	if errors.Is(err, store.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	subject := "Codice di accesso EDI Forecast WebApp"
	body := fmt.Sprintf("Ciao %s,\n\nIl tuo codice di accesso è: %s", name, code)
	a.sendEmail(email, subject, body)
	return nil
}

// VerifyLogin checks the supplied code against the stored login code. The
// code is deliberately NOT cleared on success or failure: it stays valid
// until it expires or the next SendLoginCode replaces it. This mirrors the
// long-standing behavior existing clients rely on; see DESIGN.md.
func (a *App) VerifyLogin(email, code string) (domain.User, error) {
	email = normalizeEmail(email)
	user, ok, err := a.users.GetUser(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if !user.IsActive {
		a.notifyLogin(email, false)
		return domain.User{}, ErrInactiveAccount
	}
	if a.now().After(user.OTPExpiresAt) {
		a.notifyLogin(email, false)
		return domain.User{}, ErrCodeExpired
	}
	if code != user.LoginCode {
		a.notifyLogin(email, false)
		return domain.User{}, ErrInvalidCode
	}
	a.notifyLogin(email, true)
	return user, nil
}

// Protected fields are never touched by a general profile update; role and
// active flag additionally require the caller to assert elevated privilege.
// The flag is the sole privilege gate here: deciding whether the caller
// actually is an admin is the HTTP layer's job.
var protectedFields = []string{"email", "activation_code", "otp_expires_at", "login_code", "created_at"}

// UpdateUser shallow-merges updates (keyed by on-disk field names) over the
// stored user after stripping protected fields.
func (a *App) UpdateUser(email string, updates map[string]any, allowRoleChange bool) error {
	filtered := make(map[string]any, len(updates))
	for key, value := range updates {
		filtered[key] = value
	}
	for _, field := range protectedFields {
		delete(filtered, field)
	}
	if !allowRoleChange {
		delete(filtered, "role")
		delete(filtered, "is_active")
	}

	err := a.users.UpdateUser(normalizeEmail(email), func(u *domain.User) error {
		applyUpdates(u, filtered)
		return nil
	})
	if errors.Is(err, store.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

// GetUser returns one user by email.
func (a *App) GetUser(email string) (domain.User, bool, error) {
	return a.users.GetUser(normalizeEmail(email))
}

// ListUsers returns every registered user (admin use only).
func (a *App) ListUsers() ([]domain.User, error) {
	return a.users.ListUsers()
}

// SaveForecast validates and persists a parsed upload as a forecast document.
func (a *App) SaveForecast(customer, originalFilename string, rawContent []byte, records []domain.ForecastRow) (store.SaveResult, error) {
	if !domain.ValidCustomer(customer) {
		return store.SaveResult{}, ErrUnknownCustomer
	}
	if strings.TrimSpace(originalFilename) == "" {
		return store.SaveResult{}, ErrFilenameRequired
	}
	if len(records) == 0 {
		return store.SaveResult{}, ErrNoRecords
	}
	return a.forecasts.Save(customer, originalFilename, rawContent, records)
}

// ListForecasts returns browse entries, optionally filtered by customer.
func (a *App) ListForecasts(customer string, oldestFirst bool) ([]store.DocumentInfo, error) {
	return a.forecasts.List(customer, oldestFirst)
}

// LoadForecast reads a stored document by filename.
func (a *App) LoadForecast(name string) (domain.ForecastDocument, error) {
	return a.forecasts.Load(name)
}

// DeleteForecast removes a stored document by filename.
func (a *App) DeleteForecast(name string) error {
	return a.forecasts.Delete(name)
}

func (a *App) domainAllowed(email string) bool {
	for _, domainSuffix := range a.allowedDomains {
		if strings.HasSuffix(email, domainSuffix) {
			return true
		}
	}
	return false
}

func (a *App) sendEmail(to, subject, body string) {
	if a.mailer == nil {
		slog.Warn("mailer not configured, email not sent", "to", to, "subject", subject)
		return
	}
	if err := a.mailer.SendEmail(to, subject, body); err != nil {
		slog.Warn("email delivery failed", "to", to, "subject", subject, "err", err)
	}
}

func (a *App) notifyLogin(email string, success bool) {
	if a.notifier == nil {
		return
	}
	title := "Forecast WebApp login"
	message := fmt.Sprintf("Login riuscito per %s", email)
	priority := 3
	tags := []string{"unlock"}
	if !success {
		message = fmt.Sprintf("Tentativo di login fallito per %s", email)
		priority = 4
		tags = []string{"warning"}
	}
	if err := a.notifier.SendNotification(title, message, priority, tags); err != nil {
		slog.Warn("login notification failed", "email", email, "err", err)
	}
}

func applyUpdates(u *domain.User, updates map[string]any) {
	for key, value := range updates {
		switch key {
		case "name":
			if v, ok := value.(string); ok {
				u.Name = v
			}
		case "surname":
			if v, ok := value.(string); ok {
				u.Surname = v
			}
		case "company":
			if v, ok := value.(string); ok {
				u.Company = v
			}
		case "role":
			if v, ok := value.(string); ok {
				u.Role = domain.UserRole(v)
			}
		case "is_active":
			if v, ok := value.(bool); ok {
				u.IsActive = v
			}
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
