package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server) *AzureClient {
	t.Helper()
	c, err := NewAzureClient(AzureConfig{
		Endpoint:   srv.URL,
		Deployment: "gpt-4o",
		APIKey:     "secret",
		APIVersion: "2024-06-01",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewAzureClient_RequiredFields(t *testing.T) {
	cases := []AzureConfig{
		{Deployment: "d", APIKey: "k"},
		{Endpoint: "https://x/", APIKey: "k"},
		{Endpoint: "https://x/", Deployment: "d"},
	}
	for i, cfg := range cases {
		if _, err := NewAzureClient(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestNewAzureClient_Defaults(t *testing.T) {
	c, err := NewAzureClient(AzureConfig{Endpoint: "https://example.openai.azure.com", Deployment: "d", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.endpoint != "https://example.openai.azure.com/" {
		t.Errorf("expected trailing slash on endpoint, got %s", c.endpoint)
	}
	if c.APIVersion() != "2024-02-01" {
		t.Errorf("unexpected default api version %s", c.APIVersion())
	}
	want := "https://example.openai.azure.com/openai/deployments/d/chat/completions?api-version=2024-02-01"
	if c.url() != want {
		t.Errorf("url = %s, want %s", c.url(), want)
	}
}

func TestAzureClient_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-4o/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-06-01" {
			t.Errorf("unexpected api-version %s", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4o-2024-05-13",
			"choices": [{"message": {"role": "assistant", "content": "{\"reranked\":[]}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.Complete(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "user"}},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != `{"reranked":[]}` {
		t.Errorf("unexpected content %q", out.Content)
	}
	if out.PromptTokens != 120 || out.CompletionTokens != 30 || out.TotalTokens != 150 {
		t.Errorf("unexpected usage %+v", out)
	}
	if out.Model != "gpt-4o-2024-05-13" {
		t.Errorf("unexpected model %s", out.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem || got.Temperature != 0.3 {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestAzureClient_Complete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited", "type": "requests", "code": "429"}}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv).Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAzureClient_Complete_NonJSONStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv).Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAzureClient_Complete_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestAzureClient_Complete_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := newTestClient(t, srv).Complete(ctx, CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
}
