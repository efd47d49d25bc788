// Package admin guards the operator-only surface: a shared password checked
// against an Argon2id hash, and a signed session cookie once it matches.
package admin

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// CookieName is the session cookie set after a successful login.
	CookieName = "tp_admin"
	// DefaultTTL is the session lifetime when Config.TTL is unset.
	DefaultTTL = 12 * time.Hour

	subject = "admin"
	issuer  = "tinypaste"
)

// Config describes how the gate authenticates.
type Config struct {
	// PasswordHash is an Argon2id PHC string. It wins over Password.
	PasswordHash string
	// Password is hashed once at startup when no hash is given.
	Password string
	// Secret signs session tokens. Empty means a random per-process secret,
	// so sessions do not survive a restart.
	Secret []byte
	TTL    time.Duration
}

// Gate is safe for concurrent use.
type Gate struct {
	hash   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGate validates cfg and builds a Gate.
func NewGate(cfg Config) (*Gate, error) {
	hash := strings.TrimSpace(cfg.PasswordHash)
	switch {
	case hash != "":
		if err := CheckHash(hash); err != nil {
			return nil, errors.Wrap(err, "admin password hash")
		}
	case cfg.Password != "":
		var err error
		hash, err = HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errEmptyPassword
	}

	secret := cfg.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, errors.Wrap(err, "generate session secret")
		}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{hash: hash, secret: secret, ttl: ttl, now: time.Now}, nil
}

// Authenticate compares password with the configured hash.
func (g *Gate) Authenticate(password string) bool {
	ok, err := VerifyPassword(g.hash, password)
	return err == nil && ok
}

// Login issues a session cookie. secure marks it HTTPS-only.
func (g *Gate) Login(w http.ResponseWriter, secure bool) error {
	now := g.now()
	expires := now.Add(g.ttl)
	claims := &jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return errors.Wrap(err, "sign session")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// IsAuthenticated reports whether r carries a valid, unexpired session.
func (g *Gate) IsAuthenticated(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(subject),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	return err == nil && token.Valid
}

// Logout clears the session cookie.
func (g *Gate) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Require rejects requests without a session: API paths get a 401 JSON body,
// pages are redirected to the login form at /.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsAuthenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		if isAPIRequest(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"code":    "UNAUTHORIZED",
				"error":   "authentication required",
			})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

func isAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
