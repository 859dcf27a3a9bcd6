package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/eren/reddilite/internal/auth"
)

// TokenValidator validates a raw bearer token and returns its identity.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*auth.Identity, error)
}

// RequireAuth validates the Authorization bearer header and injects the
// identity into the request context. Requests without a valid token are
// rejected before any business logic runs.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				http.Error(w, `{"error":"not authenticated","code":"not_authenticated"}`, http.StatusUnauthorized)
				return
			}

			ident, err := validator.Validate(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token","code":"invalid_token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), "identity", ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
