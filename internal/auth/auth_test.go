package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", "quiz", time.Hour)
	token, err := issuer.Issue(domain.Identity{ID: "user-1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	who, err := NewVerifier("secret", "quiz").Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if who.ID != "user-1" || who.DisplayName != "Alice" {
		t.Fatalf("unexpected identity %+v", who)
	}
}

func TestVerifyRejects(t *testing.T) {
	issuer := NewIssuer("secret", "quiz", time.Hour)
	good, _ := issuer.Issue(domain.Identity{ID: "user-1"})

	expiredIssuer := NewIssuer("secret", "quiz", time.Hour)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIssuer.Issue(domain.Identity{ID: "user-1"})

	cases := []struct {
		name     string
		verifier *Verifier
		token    string
	}{
		{"empty", NewVerifier("secret", "quiz"), ""},
		{"garbage", NewVerifier("secret", "quiz"), "not-a-jwt"},
		{"wrong secret", NewVerifier("other", "quiz"), good},
		{"wrong issuer", NewVerifier("secret", "someone-else"), good},
		{"expired", NewVerifier("secret", "quiz"), expired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.verifier.Verify(tc.token)
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Fatalf("expected unauthenticated, got %v", err)
			}
		})
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	if _, err := NewIssuer("secret", "quiz", time.Hour).Issue(domain.Identity{}); err == nil {
		t.Fatalf("expected error for anonymous subject")
	}
}

func TestMiddleware(t *testing.T) {
	issuer := NewIssuer("secret", "quiz", time.Hour)
	token, _ := issuer.Issue(domain.Identity{ID: "user-1", DisplayName: "Alice"})

	var seen domain.Identity
	handler := Middleware(NewVerifier("secret", "quiz"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen.ID != "user-1" {
		t.Fatalf("bearer: status %d identity %+v", rec.Code, seen)
	}

	seen = domain.Identity{}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if seen.ID != "user-1" {
		t.Fatalf("query token not resolved: %+v", seen)
	}

	seen = domain.Identity{ID: "stale"}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent || !seen.Anonymous() {
		t.Fatalf("missing token should pass anonymous, got %d %+v", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer broken")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}
