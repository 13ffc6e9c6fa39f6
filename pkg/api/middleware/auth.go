package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
)

type contextKey string

const (
	ContextKeySubject contextKey = "auth.subject"
	ContextKeyRole    contextKey = "auth.role"

	// AuthHeader is the shared-secret header the facade requires on every
	// request; there is exactly one account, so there is no bearer token
	// to issue or rotate, just a fixed key.
	AuthHeader = "X-Auth-Key"
)

// Verifier checks a token and returns subject and role
type Verifier interface {
	Verify(ctx context.Context, token string) (subject string, role string, err error)
}

// SharedSecretVerifier accepts exactly one configured key, constant-time
// compared.
type SharedSecretVerifier struct {
	Key string
}

func (v SharedSecretVerifier) Verify(ctx context.Context, token string) (string, string, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.Key)) != 1 {
		return "", "", errInvalidKey
	}
	return "gateway-client", "operator", nil
}

var errInvalidKey = &invalidKeyError{}

type invalidKeyError struct{}

func (e *invalidKeyError) Error() string { return "invalid auth key" }

// AuthMiddleware reads the shared secret from AuthHeader and verifies it.
func AuthMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AuthHeader)
			if key == "" {
				http.Error(w, "missing "+AuthHeader+" header", http.StatusUnauthorized)
				return
			}

			sub, role, err := verifier.Verify(r.Context(), key)
			if err != nil {
				http.Error(w, "invalid auth key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, sub)
			ctx = context.WithValue(ctx, ContextKeyRole, role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helpers to get data from context
func GetSubject(ctx context.Context) string {
	s, _ := ctx.Value(ContextKeySubject).(string)
	return s
}

func GetRole(ctx context.Context) string {
	r, _ := ctx.Value(ContextKeyRole).(string)
	return r
}
