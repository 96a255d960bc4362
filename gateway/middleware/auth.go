// Package middleware holds the HTTP middleware shared by gateway routes.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"strikelend/crypto"
)

type contextKey string

const contextKeyCaller contextKey = "caller"

// Authenticator validates bearer tokens and resolves the calling principal.
// Tokens are HS256 JWTs whose subject is the caller's bech32 address.
type Authenticator struct {
	secret   []byte
	issuer   string
	clockNow func() time.Time
}

// NewAuthenticator builds an authenticator for the shared HS256 secret. The
// issuer is enforced when non-empty.
func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer, clockNow: time.Now}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address in the request context.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := a.authenticate(r)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) ([20]byte, error) {
	var caller [20]byte
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return caller, jwt.ErrTokenMalformed
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clockNow),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, options...)
	if err != nil {
		return caller, err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return caller, err
	}
	addr, err := crypto.DecodeAddress(subject)
	if err != nil {
		return caller, err
	}
	copy(caller[:], addr.Bytes())
	return caller, nil
}

// IssueToken mints a token for the given address, primarily for tests and
// local tooling.
func (a *Authenticator) IssueToken(addr crypto.Address, ttl time.Duration) (string, error) {
	now := a.clockNow()
	claims := jwt.MapClaims{
		"sub": addr.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// CallerFromContext returns the authenticated caller address, if any.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}
