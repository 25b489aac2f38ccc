// Package openaicompat talks to hosted models exposing the OpenAI chat
// completions API, such as Groq and OpenRouter.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rag-chat-service/internal/models"

	"go.uber.org/zap"
)

const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Client wraps an OpenAI-compatible chat completions API
type Client struct {
	name         string
	apiKey       string
	baseURL      string
	modelName    string
	systemPrompt string
	httpClient   *http.Client
	logger       *zap.Logger
	maxRetries   int
	retryDelay   time.Duration
}

// Config for the OpenAI-compatible client
type Config struct {
	Name         string // provider name used in logs, e.g. "groq"
	BaseURL      string
	APIKey       string
	ModelName    string // Default: "llama-3.3-70b-versatile"
	SystemPrompt string
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Name)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", cfg.Name)
	}

	if cfg.Name == "" {
		cfg.Name = "openai-compatible"
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "llama-3.3-70b-versatile"
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	logger.Info("OpenAI-compatible client initialized",
		zap.String("provider", cfg.Name),
		zap.String("model", cfg.ModelName),
		zap.Int("max_retries", cfg.MaxRetries))

	return &Client{
		name:         cfg.Name,
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		modelName:    cfg.ModelName,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   httpClient,
		logger:       logger.With(zap.String("provider", cfg.Name)),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Close closes the client
func (c *Client) Close() error {
	return nil
}

// Complete sends the conversation and returns the first choice
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error) {
	reqBody := chatRequest{
		Model:       c.modelName,
		Messages:    c.buildMessages(messages),
		Temperature: 0.3,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying chat completion request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.maxRetries))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		result, err := c.doRequest(ctx, jsonData)
		if err == nil {
			c.logger.Debug("Chat completion succeeded", zap.Int("attempt", attempt+1))
			return result, nil
		}

		lastErr = err
		c.logger.Error("Chat completion failed", zap.Error(err), zap.Int("attempt", attempt+1))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) buildMessages(messages []models.ChatMessage) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if c.systemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*models.ChatCompletion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s API returned status %d: %s", models.ErrRateLimited, c.name, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API returned status %d: %s", c.name, resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty response from %s", c.name)
	}

	choice := parsed.Choices[0]
	model := parsed.Model
	if model == "" {
		model = c.modelName
	}

	return &models.ChatCompletion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Provider:     c.name,
		Model:        model,
	}, nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    c.name,
		"model":       c.modelName,
		"max_retries": c.maxRetries,
		"retry_delay": c.retryDelay.String(),
	}
}
