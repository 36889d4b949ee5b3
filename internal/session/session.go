// Package session issues and verifies the HS256 JWTs handed out after a
// successful login-code verification. Tokens are stateless on purpose: the
// core holds no session state.
package session

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ediforecast/pkg/domain"
)

// DefaultTTL matches the login-code workday window.
const DefaultTTL = 480 * time.Minute

// ErrInvalidToken is returned for expired, malformed, or forged tokens.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the verified identity carried by a session token.
type Claims struct {
	Email string
	Role  domain.UserRole
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens with a shared HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a session manager. A zero ttl selects DefaultTTL.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for the given user.
func (m *Manager) Issue(email string, role domain.UserRole) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.ttl)
	claims := tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates signature and expiry and returns the embedded identity.
func (m *Manager) Verify(token string) (Claims, error) {
	parsed := tokenClaims{}
	t, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return Claims{}, ErrInvalidToken
	}
	email := strings.TrimSpace(parsed.Subject)
	if email == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Email: email, Role: domain.UserRole(parsed.Role)}, nil
}
