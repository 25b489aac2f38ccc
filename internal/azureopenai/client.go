// Package azureopenai calls an Azure OpenAI deployment with an Azure AI
// Search index attached as its retrieval source.
package azureopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rag-chat-service/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"
)

const (
	DefaultAPIVersion = "2024-10-21"
	cognitiveScope    = "https://cognitiveservices.azure.com/.default"
)

// Config for the Azure OpenAI client
type Config struct {
	Endpoint   string
	Deployment string
	APIVersion string
	// APIKey authenticates with the api-key header. When empty, a token is
	// requested from Credential, or from DefaultAzureCredential.
	APIKey     string
	Credential azcore.TokenCredential

	SearchEndpoint string
	SearchIndex    string
	// SearchAPIKey empty means the deployment reaches search with its
	// system-assigned managed identity.
	SearchAPIKey string

	SystemPrompt string
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
}

// Client wraps the Azure OpenAI chat completions API
type Client struct {
	cfg        Config
	credential azcore.TokenCredential
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	DataSources []dataSource  `json:"data_sources,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type dataSource struct {
	Type       string               `json:"type"`
	Parameters dataSourceParameters `json:"parameters"`
}

type dataSourceParameters struct {
	Endpoint       string         `json:"endpoint"`
	IndexName      string         `json:"index_name"`
	Authentication authentication `json:"authentication"`
}

type authentication struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Context *struct {
				Citations []models.Citation `json:"citations"`
				Intent    json.RawMessage   `json:"intent"`
			} `json:"context"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates a new Azure OpenAI client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai deployment is required")
	}

	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	credential := cfg.Credential
	if cfg.APIKey == "" && credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", err)
		}
		credential = cred
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	logger.Info("Azure OpenAI client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("deployment", cfg.Deployment),
		zap.String("search_index", cfg.SearchIndex),
		zap.Bool("api_key_auth", cfg.APIKey != ""))

	return &Client{
		cfg:        cfg,
		credential: credential,
		httpClient: httpClient,
		logger:     logger.With(zap.String("provider", "azure_openai")),
	}, nil
}

// Close closes the client
func (c *Client) Close() error {
	return nil
}

// Complete sends the conversation grounded on the configured search index
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error) {
	jsonData, err := json.Marshal(c.buildRequest(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying Azure OpenAI request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.cfg.MaxRetries))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		result, err := c.doRequest(ctx, jsonData)
		if err == nil {
			c.logger.Debug("Chat completion succeeded",
				zap.Int("citations", len(result.Citations)),
				zap.Int("attempt", attempt+1))
			return result, nil
		}

		lastErr = err
		c.logger.Error("Azure OpenAI API error", zap.Error(err), zap.Int("attempt", attempt+1))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) buildRequest(messages []models.ChatMessage) chatRequest {
	req := chatRequest{
		Messages:    make([]chatMessage, 0, len(messages)+1),
		Temperature: 0,
	}
	if c.cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	if c.cfg.SearchEndpoint != "" && c.cfg.SearchIndex != "" {
		auth := authentication{Type: "system_assigned_managed_identity"}
		if c.cfg.SearchAPIKey != "" {
			auth = authentication{Type: "api_key", Key: c.cfg.SearchAPIKey}
		}
		req.DataSources = []dataSource{{
			Type: "azure_search",
			Parameters: dataSourceParameters{
				Endpoint:       c.cfg.SearchEndpoint,
				IndexName:      c.cfg.SearchIndex,
				Authentication: auth,
			},
		}}
	}

	return req
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*models.ChatCompletion, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.cfg.Endpoint, c.cfg.Deployment, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: azure openai returned status %d: %s", models.ErrRateLimited, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure openai returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty response from azure openai")
	}

	choice := parsed.Choices[0]
	result := &models.ChatCompletion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Provider:     "azure_openai",
		Model:        parsed.Model,
	}
	if result.Model == "" {
		result.Model = c.cfg.Deployment
	}

	if ctxData := choice.Message.Context; ctxData != nil {
		result.Citations = ctxData.Citations
		result.Intent = decodeIntent(ctxData.Intent)
	}

	return result, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
		return nil
	}

	token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cognitiveScope}})
	if err != nil {
		return fmt.Errorf("failed to acquire azure token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	return nil
}

// decodeIntent returns the intent as text. The service sends it as a JSON
// string holding a list; any other JSON value is kept verbatim.
func decodeIntent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":     "azure_openai",
		"model":        c.cfg.Deployment,
		"search_index": c.cfg.SearchIndex,
		"api_version":  c.cfg.APIVersion,
		"max_retries":  c.cfg.MaxRetries,
		"retry_delay":  c.cfg.RetryDelay.String(),
	}
}
