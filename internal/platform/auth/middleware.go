package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tasknotify/project/internal/platform/httpx"
)

const (
	MsgTokenRequired = "access token required"
	MsgInvalidToken  = "invalid token"
)

// Verifier is satisfied by *Manager.
type Verifier interface {
	Verify(token string) (Claims, error)
}

type claimsContextKey struct{}

// Middleware answers 401 when no credential is sent and 403 when the one sent
// is not a bearer token that verifies. Verified claims are stored on the
// request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if credential(header) == "" {
				httpx.WriteError(w, http.StatusUnauthorized, MsgTokenRequired)
				return
			}
			token := BearerToken(header)
			if token == "" {
				httpx.WriteError(w, http.StatusForbidden, MsgInvalidToken)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				httpx.WriteError(w, http.StatusForbidden, MsgInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// credential returns whatever follows the scheme in an Authorization header,
// regardless of the scheme.
func credential(header string) string {
	_, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(Claims)
	return claims, ok
}
