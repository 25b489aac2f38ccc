package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rag-chat-service/internal/models"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client wraps the Gemini API client
type Client struct {
	client       *genai.Client
	logger       *zap.Logger
	modelName    string
	systemPrompt string
	maxRetries   int
	retryDelay   time.Duration
}

// Config for Gemini client
type Config struct {
	APIKey       string
	ModelName    string // Default: "gemini-2.0-flash"
	SystemPrompt string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewClient creates a new Gemini client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized",
		zap.String("model", cfg.ModelName),
		zap.Int("max_retries", cfg.MaxRetries))

	return &Client{
		client:       client,
		logger:       logger.With(zap.String("provider", "gemini")),
		modelName:    cfg.ModelName,
		systemPrompt: cfg.SystemPrompt,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}

// Complete replays the conversation as a chat session and sends the last turn
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error) {
	system, history, last := splitConversation(c.systemPrompt, messages)
	if last == "" {
		return nil, fmt.Errorf("conversation has no message to send")
	}

	// GenerativeModel is not safe for concurrent use, one per request
	model := c.client.GenerativeModel(c.modelName)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.3),
		TopP:            genai.Ptr[float32](0.9),
		MaxOutputTokens: genai.Ptr[int32](2048),
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying Gemini request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.maxRetries))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		session := model.StartChat()
		session.History = history

		resp, err := session.SendMessage(ctx, genai.Text(last))
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			c.logger.Error("Gemini API error", zap.Error(err), zap.Int("attempt", attempt+1))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		result, err := c.toCompletion(resp)
		if err != nil {
			lastErr = err
			c.logger.Error("Unusable Gemini response", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}

		c.logger.Debug("Chat completion succeeded", zap.Int("attempt", attempt+1))
		return result, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) toCompletion(resp *genai.GenerateContentResponse) (*models.ChatCompletion, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from gemini")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("unexpected response type from gemini")
	}

	result := &models.ChatCompletion{
		Content:      text.String(),
		FinishReason: strings.ToLower(cand.FinishReason.String()),
		Provider:     "gemini",
		Model:        c.modelName,
	}

	if cand.CitationMetadata != nil {
		for _, src := range cand.CitationMetadata.CitationSources {
			if src == nil || src.URI == nil {
				continue
			}
			result.Citations = append(result.Citations, models.Citation{URL: *src.URI})
		}
	}

	return result, nil
}

// splitConversation maps chat messages onto Gemini's shape: system messages
// join the system instruction, earlier turns become history and the final
// turn is sent.
func splitConversation(systemPrompt string, messages []models.ChatMessage) (string, []*genai.Content, string) {
	var system []string
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}

	turns := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		turns = append(turns, m)
	}

	if len(turns) == 0 {
		return strings.Join(system, "\n\n"), nil, ""
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "gemini",
		"model":       c.modelName,
		"max_retries": c.maxRetries,
		"retry_delay": c.retryDelay.String(),
	}
}
