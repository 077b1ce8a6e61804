package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aksara/backend/internal/auth"
	"aksara/backend/internal/config"
	"aksara/backend/internal/conversation"
	"aksara/backend/internal/db"
	"aksara/backend/internal/document"
	"aksara/backend/internal/relay"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type stubRelay struct {
	frames   []relay.Frame
	reply    string
	err      error
	title    string
	titleErr error

	requests []relay.Request
}

func (s *stubRelay) ModelID(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "gemini"
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func (s *stubRelay) Stream(_ context.Context, req relay.Request, emit func(relay.Frame) error) error {
	s.requests = append(s.requests, req)
	for _, frame := range s.frames {
		if err := emit(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubRelay) Complete(_ context.Context, req relay.Request) (string, error) {
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

func (s *stubRelay) Title(_ context.Context, _, firstMessage string) (string, error) {
	if s.titleErr != nil {
		return relay.TruncateTitle(firstMessage), s.titleErr
	}
	return s.title, nil
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

type stubVerifier struct {
	identity auth.Identity
	err      error
}

func (s stubVerifier) Verify(_ context.Context, idToken string) (auth.Identity, error) {
	if idToken == "" {
		return auth.Identity{}, auth.ErrMissingToken
	}
	return s.identity, s.err
}

func newTestDeps(t *testing.T, chat ChatRelay) (Deps, *sql.DB) {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return Deps{
		Config:        config.Config{AuthRequired: true, AllowedOrigins: []string{"http://localhost:5173"}},
		Relay:         chat,
		Conversations: conversation.NewStore(database),
		Documents:     document.NewExtractor(document.Options{MaxBytes: 1 << 20, Logger: zerolog.Nop()}),
		Verifier:      stubVerifier{identity: auth.Identity{UserID: "user-1", Email: "user1@example.com"}},
		Logger:        zerolog.Nop(),
	}, database
}

func newTestHandler(t *testing.T, chat ChatRelay) (Handler, *sql.DB) {
	t.Helper()
	deps, database := newTestDeps(t, chat)
	return NewHandler(deps), database
}

func requestWithIdentity(req *http.Request, userID string) *http.Request {
	return req.WithContext(withIdentity(req.Context(), auth.Identity{UserID: userID, Email: userID + "@example.com"}))
}

func requestWithConversationID(req *http.Request, conversationID string) *http.Request {
	routeContext := chi.NewRouteContext()
	routeContext.URLParams.Add("id", conversationID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeContext))
}

func decodeJSONBody(t *testing.T, resp *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, resp.Body.String())
	}
}

// streamFrames decodes every data event of an SSE response body.
func streamFrames(t *testing.T, body string) []relay.Frame {
	t.Helper()
	var frames []relay.Frame
	for _, event := range strings.Split(body, "\n\n") {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		payload, ok := strings.CutPrefix(event, "data: ")
		if !ok {
			t.Fatalf("unexpected event: %q", event)
		}
		var frame relay.Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("decode frame %q: %v", payload, err)
		}
		frames = append(frames, frame)
	}
	return frames
}
