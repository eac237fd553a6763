package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var (
	host  = domain.Identity{ID: "host-1", DisplayName: "Host"}
	alice = domain.Identity{ID: "u1", DisplayName: "Alice"}
)

type testServer struct {
	*httptest.Server
	issuer *auth.Issuer
	coord  *app.Coordinator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	opts := app.DefaultOptions()
	opts.PublicURL = "https://quiz.example.com"
	coord := app.NewCoordinator(app.Deps{
		Sessions: memory.NewSessionStore(),
		Profiles: memory.NewProfileStore(),
		Grants:   memory.NewGrantStore(),
		Quizzes:  memory.NewQuizLibrary(),
	}, opts)
	srv := httptest.NewServer(NewRouter(coord, auth.NewVerifier("test-secret", "quiz"), nil))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, issuer: auth.NewIssuer("test-secret", "quiz", time.Hour), coord: coord}
}

func (s *testServer) token(t *testing.T, who domain.Identity) string {
	t.Helper()
	token, err := s.issuer.Issue(who)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// call performs a JSON request and decodes the response into out when non-nil.
func (s *testServer) call(t *testing.T, method, path, token string, body, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func twoQuestions() app.CreateSessionRequest {
	return app.CreateSessionRequest{
		Title: "Capitals",
		Questions: []domain.Question{
			{Text: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice"}, Correct: 0},
			{Text: "Capital of Japan?", Options: []string{"Osaka", "Tokyo"}, Correct: 1},
		},
	}
}
