package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aksara/backend/internal/conversation"
	"aksara/backend/internal/provider"
	"aksara/backend/internal/relay"

	"github.com/rs/zerolog"
)

func TestChatStreamWritesFramesAsEvents(t *testing.T) {
	stub := &stubRelay{frames: []relay.Frame{
		{Text: "Halo"},
		{Text: "!"},
		{Done: true, FullText: "Halo!"},
	}}
	handler, _ := newTestHandler(t, stub)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"Hi","model":"gemini","history":[{"isUser":true,"text":"a","id":"ignored"}]}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ChatStream(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := resp.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected cache control: %q", got)
	}

	frames := streamFrames(t, resp.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if !frames[2].Done || frames[2].FullText != "Halo!" {
		t.Fatalf("unexpected terminal frame: %+v", frames[2])
	}
	if len(stub.requests) != 1 || stub.requests[0].Message != "Hi" || len(stub.requests[0].History) != 1 {
		t.Fatalf("unexpected relayed request: %+v", stub.requests)
	}
}

func TestChatStreamMissingCredentialsYieldsSingleConfigFrame(t *testing.T) {
	service := relay.NewService(relay.Options{Credentials: provider.Credentials{}, Logger: zerolog.Nop()})
	handler, _ := newTestHandler(t, service)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"Halo","model":"deepseek","history":[]}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ChatStream(resp, req)

	frames := streamFrames(t, resp.Body.String())
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d: %+v", len(frames), frames)
	}
	if !frames[0].Done || !frames[0].Error {
		t.Fatalf("expected error terminal frame, got %+v", frames[0])
	}
	if !strings.Contains(frames[0].Text, "DEEPSEEK_API_KEY") {
		t.Fatalf("expected configuration instruction, got %q", frames[0].Text)
	}
}

func TestChatStreamEmptyMessageStillStreams(t *testing.T) {
	service := relay.NewService(relay.Options{Logger: zerolog.Nop()})
	handler, _ := newTestHandler(t, service)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"   ","model":"gemini"}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ChatStream(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	frames := streamFrames(t, resp.Body.String())
	if len(frames) != 1 || !frames[0].Done || !frames[0].Error {
		t.Fatalf("expected a single error terminal frame, got %+v", frames)
	}
}

func TestChatStreamRejectsMalformedBody(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ChatStream(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestChatStreamUsesConversationSystemPrompt(t *testing.T) {
	stub := &stubRelay{frames: []relay.Frame{{Done: true}}}
	handler, _ := newTestHandler(t, stub)

	created, err := handler.conversations.Create(t.Context(), "user-1", "Guru", "Jawab seperti guru.")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"Hi","conversationId":"`+created.ID+`"}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ChatStream(resp, req)

	if len(stub.requests) != 1 || stub.requests[0].SystemPrompt != "Jawab seperti guru." {
		t.Fatalf("expected stored system prompt to be relayed, got %+v", stub.requests)
	}

	otherReq := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"Hi","conversationId":"`+created.ID+`"}`))
	otherReq = requestWithIdentity(otherReq, "user-2")
	otherResp := httptest.NewRecorder()

	handler.ChatStream(otherResp, otherReq)

	if otherResp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d for foreign conversation, got %d", http.StatusNotFound, otherResp.Code)
	}
}

func TestChatReturnsBufferedReply(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{reply: "Baik, terima kasih."})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Apa kabar?","model":"Llama"}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.Chat(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var body chatResponse
	decodeJSONBody(t, resp, &body)
	if body.Status != "success" || body.Response != "Baik, terima kasih." || body.Model != "llama" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestChatMapsFailureKindsToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &relay.Failure{Kind: relay.KindValidation, Message: "kosong"}, http.StatusBadRequest},
		{"configuration", &relay.Failure{Kind: relay.KindConfiguration, Message: "atur kunci"}, http.StatusOK},
		{"upstream", &relay.Failure{Kind: relay.KindUpstream, Message: "limit"}, http.StatusOK},
		{"internal", &relay.Failure{Kind: relay.KindInternal, Message: "x"}, http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, _ := newTestHandler(t, &stubRelay{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"Hi"}`))
			req = requestWithIdentity(req, "user-1")
			resp := httptest.NewRecorder()

			handler.Chat(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			var body chatResponse
			decodeJSONBody(t, resp, &body)
			if body.Status != "error" {
				t.Fatalf("expected error status, got %+v", body)
			}
			if tc.status == http.StatusInternalServerError && body.Response != relay.MessageInternal {
				t.Fatalf("expected generic internal message, got %q", body.Response)
			}
		})
	}
}

func TestChatMissingMessageIsBadRequest(t *testing.T) {
	service := relay.NewService(relay.Options{Logger: zerolog.Nop()})
	handler, _ := newTestHandler(t, service)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"model":"gemini"}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.Chat(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestRateLimitRejectsOverQuota(t *testing.T) {
	deps, _ := newTestDeps(t, &stubRelay{})
	limiter := &stubLimiter{allowed: false}
	deps.Limiter = limiter
	handler := NewHandler(deps)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := requestWithIdentity(httptest.NewRequest(http.MethodPost, "/chat", nil), "user-7")
	resp := httptest.NewRecorder()
	handler.RateLimit(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, resp.Code)
	}
	if called {
		t.Fatal("next handler must not run when rate limited")
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "user-7" {
		t.Fatalf("expected limiter keyed by user id, got %v", limiter.keys)
	}
}

func TestRateLimitFailsOpenWhenLimiterErrors(t *testing.T) {
	deps, _ := newTestDeps(t, &stubRelay{})
	deps.Limiter = &stubLimiter{err: errors.New("redis down")}
	handler := NewHandler(deps)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := requestWithIdentity(httptest.NewRequest(http.MethodPost, "/chat", nil), "user-1")
	resp := httptest.NewRecorder()
	handler.RateLimit(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
}

func TestChatStreamForeignConversationDoesNotLeakExistence(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"Hi","conversationId":"missing"}`))
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ChatStream(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	if _, err := handler.conversations.Get(t.Context(), "user-1", "missing"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
