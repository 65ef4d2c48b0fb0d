package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func newUpstream(t *testing.T, status int, body string, inspect func(*http.Request, []byte)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSendsConversation(t *testing.T) {
	var captured gjson.Result
	var authHeader, path string
	srv := newUpstream(t, http.StatusOK, `{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`,
		func(r *http.Request, payload []byte) {
			captured = gjson.ParseBytes(payload)
			authHeader = r.Header.Get("Authorization")
			path = r.URL.Path
		})

	provider := NewHTTPProvider(srv.URL+"/v1/", "sk-test", time.Second)
	completion, errComplete := provider.Complete(context.Background(), Request{
		Model:        "gpt-test",
		SystemPrompt: "be brief",
		History: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hey"},
			{Role: "system", Content: "ignored"},
		},
		UserMessage: "how are you",
		Temperature: 0.2,
		MaxTokens:   64,
	})
	if errComplete != nil {
		t.Fatalf("complete: %v", errComplete)
	}
	if completion.Text != "hello there" || completion.PromptTokens != 12 || completion.CompletionTokens != 3 {
		t.Fatalf("unexpected completion %+v", completion)
	}

	if path != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", path)
	}
	if authHeader != "Bearer sk-test" {
		t.Fatalf("unexpected authorization %q", authHeader)
	}
	messages := captured.Get("messages").Array()
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d: %s", len(messages), captured.Raw)
	}
	if messages[0].Get("role").String() != "system" || messages[3].Get("content").String() != "how are you" {
		t.Fatalf("unexpected message order: %s", captured.Get("messages").Raw)
	}
	if captured.Get("max_tokens").Int() != 64 || captured.Get("model").String() != "gpt-test" {
		t.Fatalf("unexpected body %s", captured.Raw)
	}
}

func TestCompleteDistinguishesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "status", status: http.StatusBadGateway, body: `{"error":{"message":"down"}}`, want: ErrUpstreamStatus},
		{name: "not json", status: http.StatusOK, body: `<html>oops</html>`, want: ErrMalformedResponse},
		{name: "no choices", status: http.StatusOK, body: `{"id":"x"}`, want: ErrMalformedResponse},
		{name: "wrong content type", status: http.StatusOK, body: `{"choices":[{"message":{"content":42}}]}`, want: ErrMalformedResponse},
		{name: "empty choices", status: http.StatusOK, body: `{"choices":[]}`, want: ErrEmptyCompletion},
		{name: "blank text", status: http.StatusOK, body: `{"choices":[{"message":{"content":"  "}}]}`, want: ErrEmptyCompletion},
	}
	for _, tc := range cases {
		srv := newUpstream(t, tc.status, tc.body, nil)
		provider := NewHTTPProvider(srv.URL, "", time.Second)
		_, errComplete := provider.Complete(context.Background(), Request{Model: "m", UserMessage: "hi"})
		if !errors.Is(errComplete, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, errComplete)
		}
	}
}

func TestCompleteHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	provider := NewHTTPProvider(srv.URL, "", 5*time.Second)
	_, errComplete := provider.Complete(ctx, Request{Model: "m", UserMessage: "hi"})
	if !errors.Is(errComplete, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", errComplete)
	}
}

func TestCompleteRejectsEmptyMessage(t *testing.T) {
	provider := NewHTTPProvider("http://127.0.0.1:1", "", time.Second)
	if _, errComplete := provider.Complete(context.Background(), Request{Model: "m", UserMessage: " "}); !errors.Is(errComplete, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", errComplete)
	}
}

func TestCheckModel(t *testing.T) {
	allowed := []string{"gpt-4o-mini", " gpt-4o "}
	if errCheck := CheckModel(allowed, "gpt-4o"); errCheck != nil {
		t.Fatalf("expected gpt-4o allowed, got %v", errCheck)
	}
	for _, model := range []string{"", "claude", "GPT-4O"} {
		if errCheck := CheckModel(allowed, model); !errors.Is(errCheck, ErrModelNotAllowed) {
			t.Fatalf("model %q: expected ErrModelNotAllowed, got %v", model, errCheck)
		}
	}
}
