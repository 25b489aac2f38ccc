package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rag-chat-service/internal/azureopenai"
	"rag-chat-service/internal/gemini"
	"rag-chat-service/internal/models"
	"rag-chat-service/internal/openaicompat"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderAzureOpenAI ProviderType = "azure_openai"
	ProviderGemini      ProviderType = "gemini"
	ProviderGroq        ProviderType = "groq"
	ProviderOpenRouter  ProviderType = "openrouter"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type       ProviderType  `yaml:"type"`
	APIKey     string        `yaml:"api_key"`
	ModelName  string        `yaml:"model_name"`
	Endpoint   string        `yaml:"endpoint"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Azure AI Search index used as the retrieval source (azure_openai only)
	SearchEndpoint string `yaml:"search_endpoint"`
	SearchIndex    string `yaml:"search_index"`
	SearchAPIKey   string `yaml:"search_api_key"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider interface for any LLM provider
type Provider interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// RateLimitedProvider wraps a provider with a token bucket
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewRateLimitedProvider wraps a provider with rate limiting
func NewRateLimitedProvider(provider Provider, requestsPerMinute int, logger *zap.Logger) *RateLimitedProvider {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	every := rate.Every(time.Minute / time.Duration(requestsPerMinute))
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(every, requestsPerMinute),
		logger:   logger,
	}
}

func (p *RateLimitedProvider) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	return p.provider.Complete(ctx, messages)
}

func (p *RateLimitedProvider) Close() error {
	return p.provider.Close()
}

func (p *RateLimitedProvider) GetModelInfo() map[string]interface{} {
	return p.provider.GetModelInfo()
}

// MultiProviderClient manages multiple LLM providers with fallback
type MultiProviderClient struct {
	providers    []Provider
	currentIndex int
	mu           sync.RWMutex
	logger       *zap.Logger
	failureCount map[int]int
	maxFailures  int
}

// MultiProviderConfig holds configuration for multiple providers
type MultiProviderConfig struct {
	Providers    []ProviderConfig
	SystemPrompt string
	MaxFailures  int // Max consecutive failures before switching provider
}

// NewMultiProviderClient creates a new multi-provider client
func NewMultiProviderClient(cfg MultiProviderConfig, logger *zap.Logger) (*MultiProviderClient, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	providers := make([]Provider, 0, len(cfg.Providers))

	for i, providerCfg := range cfg.Providers {
		provider, err := newProvider(providerCfg, cfg.SystemPrompt, logger)
		if err != nil {
			logger.Error("Failed to create provider",
				zap.String("type", string(providerCfg.Type)),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		// Set default rate limit if not specified
		rateLimit := providerCfg.RequestsPerMinute
		if rateLimit == 0 {
			rateLimit = 60
		}

		providers = append(providers, NewRateLimitedProvider(provider, rateLimit, logger))

		logger.Info("Provider initialized",
			zap.String("type", string(providerCfg.Type)),
			zap.String("model", providerCfg.ModelName),
			zap.Int("rate_limit", rateLimit),
			zap.Int("index", i))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers could be initialized")
	}

	return NewMultiProvider(providers, cfg.MaxFailures, logger), nil
}

// NewMultiProvider builds a fallback client over ready providers
func NewMultiProvider(providers []Provider, maxFailures int, logger *zap.Logger) *MultiProviderClient {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &MultiProviderClient{
		providers:    providers,
		logger:       logger,
		failureCount: make(map[int]int),
		maxFailures:  maxFailures,
	}
}

func newProvider(cfg ProviderConfig, systemPrompt string, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case ProviderAzureOpenAI:
		return azureopenai.NewClient(azureopenai.Config{
			Endpoint:       cfg.Endpoint,
			Deployment:     cfg.ModelName,
			APIKey:         cfg.APIKey,
			SearchEndpoint: cfg.SearchEndpoint,
			SearchIndex:    cfg.SearchIndex,
			SearchAPIKey:   cfg.SearchAPIKey,
			SystemPrompt:   systemPrompt,
			MaxRetries:     cfg.MaxRetries,
			RetryDelay:     cfg.RetryDelay,
		}, logger)
	case ProviderGemini:
		return gemini.NewClient(gemini.Config{
			APIKey:       cfg.APIKey,
			ModelName:    cfg.ModelName,
			SystemPrompt: systemPrompt,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		}, logger)
	case ProviderGroq, ProviderOpenRouter:
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = openaicompat.GroqBaseURL
			if cfg.Type == ProviderOpenRouter {
				baseURL = openaicompat.OpenRouterBaseURL
			}
		}
		return openaicompat.NewClient(openaicompat.Config{
			Name:         string(cfg.Type),
			BaseURL:      baseURL,
			APIKey:       cfg.APIKey,
			ModelName:    cfg.ModelName,
			SystemPrompt: systemPrompt,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// getCurrentProvider returns the current provider and its index
func (c *MultiProviderClient) getCurrentProvider() (Provider, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[c.currentIndex], c.currentIndex
}

// switchToNextProvider switches to the next available provider
func (c *MultiProviderClient) switchToNextProvider() {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldIndex := c.currentIndex
	c.currentIndex = (c.currentIndex + 1) % len(c.providers)

	c.logger.Info("Switching provider",
		zap.Int("from_index", oldIndex),
		zap.Int("to_index", c.currentIndex),
		zap.Int("total_providers", len(c.providers)))
}

// recordFailure records a failure for a provider
func (c *MultiProviderClient) recordFailure(providerIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount[providerIndex]++

	if c.failureCount[providerIndex] >= c.maxFailures {
		c.logger.Warn("Provider reached max failures",
			zap.Int("provider_index", providerIndex),
			zap.Int("failures", c.failureCount[providerIndex]))
		return true
	}

	return false
}

// resetFailureCount resets failure count for a provider
func (c *MultiProviderClient) resetFailureCount(providerIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[providerIndex] = 0
}

// Complete asks the current provider and falls back to the next one on failure.
// When every provider fails, the last error is returned so callers can tell
// rate limiting apart from other failures.
func (c *MultiProviderClient) Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error) {
	var lastErr error

	for attempts := 0; attempts < len(c.providers); attempts++ {
		provider, providerIndex := c.getCurrentProvider()

		c.logger.Debug("Attempting chat completion",
			zap.Int("provider_index", providerIndex),
			zap.Int("attempt", attempts+1))

		result, err := provider.Complete(ctx, messages)
		if err == nil {
			c.resetFailureCount(providerIndex)
			return result, nil
		}
		lastErr = err

		c.logger.Error("Provider failed",
			zap.Int("provider_index", providerIndex),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}

		shouldSwitch := c.recordFailure(providerIndex)

		// A lone provider keeps its slot until it is rate limited or hits max failures
		if shouldSwitch || IsRateLimitError(err) || len(c.providers) > 1 {
			c.switchToNextProvider()
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// IsRateLimitError reports whether err means the provider is throttling or
// out of capacity.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrRateLimited) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "capacity") ||
		strings.Contains(errStr, "rate limit")
}

// Close closes all providers
func (c *MultiProviderClient) Close() error {
	var lastErr error
	for i, provider := range c.providers {
		if err := provider.Close(); err != nil {
			c.logger.Error("Failed to close provider",
				zap.Int("index", i),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

// GetModelInfo returns information about the current provider
func (c *MultiProviderClient) GetModelInfo() map[string]interface{} {
	provider, index := c.getCurrentProvider()
	info := provider.GetModelInfo()

	c.mu.RLock()
	defer c.mu.RUnlock()
	info["provider_index"] = index
	info["total_providers"] = len(c.providers)
	info["failure_count"] = c.failureCount[index]
	return info
}
