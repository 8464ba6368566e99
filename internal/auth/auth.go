// Package auth turns the credentials presented on a connection into the
// identity the relay works with. Tokens are issued by an external identity
// provider and signed with a shared HMAC secret.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSubject is returned for valid tokens that carry no user name.
	ErrNoSubject = errors.New("token has no subject")
)

// TokenCookie is the cookie consulted when no Authorization header is sent.
const TokenCookie = "token"

// Identity is who is behind a connection. It is fixed at connect time.
type Identity struct {
	Name          string
	Authenticated bool
}

// Anonymous is the identity of a caller without valid credentials.
func Anonymous() Identity { return Identity{} }

// User is the identity of an authenticated caller.
func User(name string) Identity { return Identity{Name: name, Authenticated: true} }

// Claims is the token payload. Username takes precedence over the subject.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. An empty secret disables
// authentication: every caller is anonymous.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks tok and returns the user name it asserts.
func (v *Verifier) Verify(tok string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	if name == "" {
		return "", ErrNoSubject
	}
	return name, nil
}

// Sign issues a token for name valid for ttl. It exists for tooling and
// tests; production tokens come from the identity provider.
func (v *Verifier) Sign(name string, ttl time.Duration) (string, error) {
	if name == "" {
		return "", ErrNoSubject
	}
	now := time.Now()
	claims := Claims{
		Username: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// FromRequest resolves the identity of r. The token is looked up in the
// Authorization header, then the token cookie, then the token query
// parameter, since browsers cannot set headers on WebSocket requests.
// Missing or invalid tokens yield Anonymous.
func (v *Verifier) FromRequest(r *http.Request) Identity {
	tok := tokenFromRequest(r)
	if tok == "" {
		return Anonymous()
	}
	name, err := v.Verify(tok)
	if err != nil {
		return Anonymous()
	}
	return User(name)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or Anonymous.
func FromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok {
		return Anonymous()
	}
	return id
}

// Middleware resolves the caller's identity once and stores it in the
// request context for downstream handlers.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), v.FromRequest(r))))
	})
}
