package azureopenai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rag-chat-service/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"go.uber.org/zap"
)

type staticCredential struct {
	token  string
	scopes []string
}

func (s *staticCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	s.scopes = opts.Scopes
	return azcore.AccessToken{Token: s.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

const groundedReply = `{
  "id": "chatcmpl-1",
  "model": "gpt-4o",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {
      "role": "assistant",
      "content": "Paris is the capital [doc1].",
      "context": {
        "intent": "[\"capital of France\"]",
        "citations": [{"content": "Paris is...", "title": "France", "url": "https://example.com/fr", "filepath": "fr.md", "chunk_id": "0"}]
      }
    }
  }]
}`

func TestComplete_SendsSearchDataSourceAndParsesContext(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-4o/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if v := r.URL.Query().Get("api-version"); v != DefaultAPIVersion {
			t.Errorf("unexpected api-version %s", v)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("missing api-key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(groundedReply))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Endpoint:       srv.URL + "/",
		Deployment:     "gpt-4o",
		APIKey:         "secret",
		SearchEndpoint: "https://search.example.net",
		SearchIndex:    "docs",
		SystemPrompt:   "Answer from the documents.",
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Complete(context.Background(), []models.ChatMessage{
		{Role: "user", Content: "What is the capital of France?"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "What is the capital of France?" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
	if len(got.DataSources) != 1 {
		t.Fatalf("expected one data source, got %d", len(got.DataSources))
	}
	ds := got.DataSources[0]
	if ds.Type != "azure_search" || ds.Parameters.IndexName != "docs" || ds.Parameters.Authentication.Type != "system_assigned_managed_identity" {
		t.Errorf("unexpected data source %+v", ds)
	}

	if result.Content != "Paris is the capital [doc1]." {
		t.Errorf("unexpected content %q", result.Content)
	}
	if result.Intent != `["capital of France"]` {
		t.Errorf("unexpected intent %q", result.Intent)
	}
	if len(result.Citations) != 1 || result.Citations[0].URL != "https://example.com/fr" || result.Citations[0].ChunkID != "0" {
		t.Errorf("unexpected citations %+v", result.Citations)
	}
	if result.Model != "gpt-4o" || result.FinishReason != "stop" {
		t.Errorf("unexpected metadata %+v", result)
	}
}

func TestComplete_UsesBearerTokenWithoutAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer srv.Close()

	cred := &staticCredential{token: "tok"}
	client, err := NewClient(Config{Endpoint: srv.URL, Deployment: "d", Credential: cred}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Complete(context.Background(), []models.ChatMessage{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "hi" || result.Intent != "" || result.Citations != nil {
		t.Errorf("unexpected result %+v", result)
	}
	if len(cred.scopes) != 1 || cred.scopes[0] != cognitiveScope {
		t.Errorf("unexpected scopes %v", cred.scopes)
	}
}

func TestComplete_TooManyRequestsIsRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"429"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Endpoint:   srv.URL,
		Deployment: "d",
		APIKey:     "k",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Complete(context.Background(), []models.ChatMessage{{Role: "user", Content: "hello"}})
	if !errors.Is(err, models.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestDecodeIntent(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"null", ""},
		{`"[\"a\"]"`, `["a"]`},
		{`["a","b"]`, `["a","b"]`},
	}
	for _, tt := range tests {
		if got := decodeIntent(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("decodeIntent(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestComplete_NegativeRetriesStillSendRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Endpoint:   srv.URL,
		Deployment: "d",
		APIKey:     "k",
		MaxRetries: -1,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Complete(context.Background(), []models.ChatMessage{{Role: "user", Content: "hello"}})
	if err == nil || errors.Unwrap(err) == nil {
		t.Fatalf("expected a wrapped upstream error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected the default 3 attempts, got %d", calls)
	}
}
