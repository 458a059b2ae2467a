package line

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testTokenCache(t *testing.T) *TokenCache {
	t.Helper()
	record := TokenRecord{AccessToken: "test-token", ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli()}
	return NewTokenCache(NewMemoryTokenStore(), &fakeIssuer{record: record}, "line-U1", nil)
}

func TestChunkMessages(t *testing.T) {
	t.Parallel()

	messages := make([]Message, 12)
	for i := range messages {
		messages[i] = NewText("m")
	}
	chunks := chunkMessages(messages, 5)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 5 || len(chunks[1]) != 5 || len(chunks[2]) != 2 {
		t.Fatalf("chunk sizes = %d/%d/%d, want 5/5/2", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	if total != len(messages) {
		t.Fatalf("chunks cover %d messages, want %d", total, len(messages))
	}
	if chunkMessages(nil, 5) != nil {
		t.Fatalf("empty input must yield no chunks")
	}
}

func TestClientPushChunksAndHeaders(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []struct {
		to       string
		count    int
		auth     string
		retryKey string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot/message/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			To       string          `json:"to"`
			Messages json.RawMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		var messages []json.RawMessage
		_ = json.Unmarshal(body.Messages, &messages)
		mu.Lock()
		calls = append(calls, struct {
			to       string
			count    int
			auth     string
			retryKey string
		}{body.To, len(messages), r.Header.Get("Authorization"), r.Header.Get("X-Line-Retry-Key")})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := ReplyTarget{Kind: "user", ID: "U1"}
	client := NewClient(nil, ClientConfig{BaseURL: srv.URL}, target, testTokenCache(t), srv.Client())

	messages := make([]Message, 7)
	for i := range messages {
		messages[i] = NewText("hello")
	}
	if err := client.Push(context.Background(), messages); err != nil {
		t.Fatalf("push: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("delivery calls = %d, want 2", len(calls))
	}
	if calls[0].count != 5 || calls[1].count != 2 {
		t.Fatalf("chunk sizes = %d/%d, want 5/2", calls[0].count, calls[1].count)
	}
	for _, call := range calls {
		if call.to != "U1" {
			t.Fatalf("to = %q, want U1", call.to)
		}
		if call.auth != "Bearer test-token" {
			t.Fatalf("authorization = %q", call.auth)
		}
		if call.retryKey == "" {
			t.Fatalf("missing retry key header")
		}
	}
	if calls[0].retryKey == calls[1].retryKey {
		t.Fatalf("retry key must differ per call")
	}
}

func TestClientPushEmptyIsNoop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call to %s", r.URL.Path)
	}))
	defer srv.Close()

	client := NewClient(nil, ClientConfig{BaseURL: srv.URL}, ReplyTarget{Kind: "user", ID: "U1"}, testTokenCache(t), srv.Client())
	if err := client.Push(context.Background(), nil); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestClientSwitcherCalls(t *testing.T) {
	t.Parallel()

	var paths []string
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		if got := r.Header.Get("X-Line-SwitcherSecret"); got != "shh" {
			t.Errorf("switcher secret header = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := ClientConfig{
		BaseURL:             srv.URL,
		SwitcherDestination: "dest-1",
		SwitcherSecret:      "shh",
	}
	client := NewClient(nil, cfg, ReplyTarget{Kind: "room", ID: "R7"}, testTokenCache(t), srv.Client())
	if !client.HasSwitcher() {
		t.Fatalf("expected switcher to be configured")
	}

	if err := client.SwitcherSwitch(context.Background()); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := client.SwitcherNotice(context.Background()); err != nil {
		t.Fatalf("notice: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/bot/admin/switcher/switch" || paths[1] != "/bot/admin/switcher/notice" {
		t.Fatalf("paths = %v", paths)
	}
	for _, body := range bodies {
		if body["destinationId"] != "dest-1" {
			t.Fatalf("destinationId = %v", body["destinationId"])
		}
		if body["roomId"] != "R7" {
			t.Fatalf("roomId = %v", body["roomId"])
		}
	}
}

func TestClientWithoutSwitcher(t *testing.T) {
	t.Parallel()

	client := NewClient(nil, ClientConfig{BaseURL: "http://localhost"}, ReplyTarget{Kind: "user", ID: "U1"}, testTokenCache(t), nil)
	if client.HasSwitcher() {
		t.Fatalf("switcher misreported as configured")
	}
}
