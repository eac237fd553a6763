package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"live-quiz-service/internal/domain"
)

type ctxKey struct{}

// WithIdentity attaches the caller to ctx.
func WithIdentity(ctx context.Context, who domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, who)
}

// FromContext returns the caller, or the anonymous identity.
func FromContext(ctx context.Context) domain.Identity {
	who, _ := ctx.Value(ctxKey{}).(domain.Identity)
	return who
}

// Middleware resolves the bearer token (or the "token" query parameter used by
// browser websockets) into the request identity. Requests without a token pass
// through anonymous; a token that fails verification is rejected with 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFrom(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			who, err := v.Verify(raw)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":  string(domain.CodeUnauthenticated),
					"error": err.Error(),
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
