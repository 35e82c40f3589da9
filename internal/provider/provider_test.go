package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

func testProviderConfig(endpoint string) config.ProviderConfig {
	cfg := config.DefaultConfig().Provider
	cfg.Endpoint = endpoint
	return cfg
}

func TestHTTPClientRequest(t *testing.T) {
	var gotPayload completionPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"completion": "Hello world!"})
	}))
	defer server.Close()

	client, err := NewHTTPClient(testProviderConfig(server.URL), logging.Default())
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	completion, err := client.RequestCompletion(context.Background(), Request{
		Prompt:      "Hello wor",
		Label:       "Message",
		WindowTitle: "Compose",
	})
	if err != nil {
		t.Fatalf("RequestCompletion failed: %v", err)
	}
	if completion.Text != "Hello world!" {
		t.Errorf("completion = %q", completion.Text)
	}
	if completion.Continuation {
		t.Error("continuation should default to false")
	}
	if gotPayload.Prompt != "Hello wor" {
		t.Errorf("prompt = %q", gotPayload.Prompt)
	}
	if gotPayload.Context != "field: Message; window: Compose" {
		t.Errorf("context = %q", gotPayload.Context)
	}
	if gotPayload.MaxTokens != 25 {
		t.Errorf("max_tokens = %d", gotPayload.MaxTokens)
	}
}

func TestHTTPClientEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"completion": "   "})
	}))
	defer server.Close()

	client, err := NewHTTPClient(testProviderConfig(server.URL), logging.Default())
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.RequestCompletion(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestHTTPClientSchemaRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrong type for completion.
		w.Write([]byte(`{"completion": 42}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(testProviderConfig(server.URL), logging.Default())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.RequestCompletion(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Error("expected schema rejection")
	}
}

func TestHTTPClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewHTTPClient(testProviderConfig(server.URL), logging.Default())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.RequestCompletion(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestStub(t *testing.T) {
	stub := NewStub()

	c, err := stub.RequestCompletion(context.Background(), Request{Prompt: "partial"})
	if err != nil {
		t.Fatal(err)
	}
	if !c.Continuation {
		t.Error("stub completion for non-empty prompt should be a continuation")
	}

	c, err = stub.RequestCompletion(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Text == "" {
		t.Error("stub should answer empty prompts")
	}
}

// countingClient counts backend calls behind the cache.
type countingClient struct {
	calls atomic.Int64
}

func (c *countingClient) RequestCompletion(ctx context.Context, req Request) (Completion, error) {
	c.calls.Add(1)
	if req.Prompt == "fail" {
		return Completion{}, ErrEmpty
	}
	return Completion{Text: req.Prompt + "!"}, nil
}

func TestCacheHit(t *testing.T) {
	backend := &countingClient{}
	cached := NewCachedClient(backend, 4)

	req := Request{Prompt: "Hello", Label: "To"}
	for i := 0; i < 3; i++ {
		c, err := cached.RequestCompletion(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if c.Text != "Hello!" {
			t.Errorf("completion = %q", c.Text)
		}
	}
	if got := backend.calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestCacheDistinctContexts(t *testing.T) {
	backend := &countingClient{}
	cached := NewCachedClient(backend, 4)

	cached.RequestCompletion(context.Background(), Request{Prompt: "Hello", Label: "To"})
	cached.RequestCompletion(context.Background(), Request{Prompt: "Hello", Label: "Subject"})

	if got := backend.calls.Load(); got != 2 {
		t.Errorf("backend calls = %d, want 2 for distinct labels", got)
	}
}

func TestCacheEviction(t *testing.T) {
	backend := &countingClient{}
	cached := NewCachedClient(backend, 2)

	cached.RequestCompletion(context.Background(), Request{Prompt: "a"})
	cached.RequestCompletion(context.Background(), Request{Prompt: "b"})
	cached.RequestCompletion(context.Background(), Request{Prompt: "c"})

	if cached.Len() != 2 {
		t.Errorf("cache len = %d, want 2", cached.Len())
	}

	// "a" was evicted; requesting it again hits the backend.
	before := backend.calls.Load()
	cached.RequestCompletion(context.Background(), Request{Prompt: "a"})
	if backend.calls.Load() != before+1 {
		t.Error("evicted entry should hit the backend")
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	backend := &countingClient{}
	cached := NewCachedClient(backend, 4)

	for i := 0; i < 2; i++ {
		if _, err := cached.RequestCompletion(context.Background(), Request{Prompt: "fail"}); err == nil {
			t.Fatal("expected failure")
		}
	}
	if got := backend.calls.Load(); got != 2 {
		t.Errorf("backend calls = %d, want 2 (failures not cached)", got)
	}
}

func TestNewSelectsMode(t *testing.T) {
	cfg := config.DefaultConfig().Provider
	cfg.Mode = "stub"
	cfg.CacheSize = 0

	client, err := New(cfg, logging.Default())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := client.(*Stub); !ok {
		t.Errorf("client type = %T, want *Stub", client)
	}

	cfg.CacheSize = 8
	client, err = New(cfg, logging.Default())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := client.(*CachedClient); !ok {
		t.Errorf("client type = %T, want *CachedClient", client)
	}
}
