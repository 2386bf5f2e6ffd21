// Package auth guards the admin panel: a single bcrypt password stored in
// SQLite and an HS256 JWT carried in a cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"duescheck/internal/core"
	"duescheck/internal/log"
)

const (
	// CookieName is the admin session cookie.
	CookieName = "admin_session"
	// SettingPasswordHash is the admin_settings key holding the bcrypt hash.
	SettingPasswordHash = "admin_password_hash"

	DefaultSessionTTL = 12 * time.Hour
	MinPasswordLength = 8

	subject = "admin"
)

var ErrInvalidToken = errors.New("invalid admin session")

// SettingsStore is the key/value store the hash lives in.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	SetSettingIfAbsent(ctx context.Context, key, value string) (bool, error)
}

type Service struct {
	store  SettingsStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *log.Logger
}

func NewService(store SettingsStore, secret string, ttl time.Duration, logger *log.Logger) (*Service, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("admin JWT secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentAuth),
	}, nil
}

// Bootstrap stores the hash of password when no admin password exists yet.
// An empty password is a no-op.
func (s *Service) Bootstrap(ctx context.Context, password string) error {
	if password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	seeded, err := s.store.SetSettingIfAbsent(ctx, SettingPasswordHash, string(hash))
	if err != nil {
		return fmt.Errorf("seed admin password: %w", err)
	}
	if seeded {
		s.logger.InfoContext(ctx, "Admin password initialised")
	}
	return nil
}

// Login checks password and returns a signed session token.
func (s *Service) Login(ctx context.Context, password string) (string, time.Time, error) {
	if err := s.verify(ctx, password); err != nil {
		s.logger.WarnContext(ctx, "Admin login rejected", log.FieldError, err.Error())
		return "", time.Time{}, err
	}
	return s.issue()
}

func (s *Service) verify(ctx context.Context, password string) error {
	hash, err := s.store.GetSetting(ctx, SettingPasswordHash)
	if errors.Is(err, core.ErrNotFound) {
		return core.ErrInvalidPassword
	}
	if err != nil {
		return fmt.Errorf("load admin password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return core.ErrInvalidPassword
	}
	return nil
}

// ChangePassword replaces the admin password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	if err := s.verify(ctx, current); err != nil {
		return err
	}
	if len(next) < MinPasswordLength {
		return fmt.Errorf("%w: password must have at least %d characters", core.ErrInvalidInput, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := s.store.SetSetting(ctx, SettingPasswordHash, string(hash)); err != nil {
		return fmt.Errorf("store admin password: %w", err)
	}
	s.logger.InfoContext(ctx, "Admin password changed")
	return nil
}

func (s *Service) issue() (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return token, exp, nil
}

// Verify checks the signature, algorithm, subject and expiry of token.
func (s *Service) Verify(token string) error {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Subject != subject || claims.ExpiresAt == nil || !claims.ExpiresAt.After(s.now()) {
		return ErrInvalidToken
	}
	return nil
}

// SetCookie writes the session cookie.
func SetCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Authenticated reports whether r carries a valid admin session.
func (s *Service) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return false
	}
	return s.Verify(c.Value) == nil
}

// Middleware sends unauthenticated requests to loginPath. HTMX requests get
// an HX-Redirect header instead of a 303.
func (s *Service) Middleware(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Authenticated(r) {
				next.ServeHTTP(w, r)
				return
			}
			s.logger.DebugContext(r.Context(), "Admin session missing", log.FieldPath, r.URL.Path)
			if strings.EqualFold(r.Header.Get("HX-Request"), "true") {
				w.Header().Set("HX-Redirect", loginPath)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, loginPath, http.StatusSeeOther)
		})
	}
}
