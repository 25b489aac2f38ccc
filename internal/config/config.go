package config

import (
	"fmt"
	"os"
	"time"

	"rag-chat-service/internal/azureblob"
	"rag-chat-service/internal/llm"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yml"

// Storage backends
const (
	StorageAzure  = "azure"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"server"`

	Logging struct {
		Development bool   `yaml:"development"`
		Level       string `yaml:"level"`
	} `yaml:"logging"`

	Storage StorageConfig `yaml:"storage"`

	SystemPrompt string `yaml:"system_prompt"`

	// Multiple providers configuration
	Providers []llm.ProviderConfig `yaml:"providers"`

	MaxFailuresBeforeSwitch int `yaml:"max_failures_before_switch"`
}

// StorageConfig selects where the evaluation and feedback logs live
type StorageConfig struct {
	Type                    string        `yaml:"type"`
	AccountURL              string        `yaml:"account_url"`
	Container               string        `yaml:"container"`
	EvaluationBlob          string        `yaml:"evaluation_blob"`
	FeedbackBlob            string        `yaml:"feedback_blob"`
	Credential              string        `yaml:"credential"`
	ManagedIdentityClientID string        `yaml:"managed_identity_client_id"`
	ConnectionString        string        `yaml:"connection_string"`
	SQLitePath              string        `yaml:"sqlite_path"`
	Timeout                 time.Duration `yaml:"timeout"`
	ConditionalWrites       bool          `yaml:"conditional_writes"`
	MaxWriteAttempts        int           `yaml:"max_write_attempts"`
}

// Path returns the config file location, honouring CONFIG_PATH
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse decodes an already expanded YAML document, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c *Config) setDefaults() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "./static"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	s := &c.Storage
	if s.Type == "" {
		s.Type = StorageAzure
	}
	if s.EvaluationBlob == "" {
		s.EvaluationBlob = "evaluation.jsonl"
	}
	if s.FeedbackBlob == "" {
		s.FeedbackBlob = "feedback.jsonl"
	}
	if s.Credential == "" {
		s.Credential = azureblob.CredentialDefault
		if s.ConnectionString != "" {
			s.Credential = azureblob.CredentialConnectionString
		}
	}
	if s.SQLitePath == "" {
		s.SQLitePath = "./data/blobs.db"
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.MaxWriteAttempts == 0 {
		s.MaxWriteAttempts = 5
	}

	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are an AI assistant that helps people find information."
	}

	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}
}

// Validate reports the first setting the server cannot start with
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	s := c.Storage
	switch s.Type {
	case StorageAzure:
		if s.Container == "" {
			return fmt.Errorf("storage.container is required for azure storage")
		}
		switch s.Credential {
		case azureblob.CredentialDefault, azureblob.CredentialManagedIdentity:
			if s.AccountURL == "" {
				return fmt.Errorf("storage.account_url is required for %s credential", s.Credential)
			}
		case azureblob.CredentialConnectionString:
			if s.ConnectionString == "" {
				return fmt.Errorf("storage.connection_string is required for connection_string credential")
			}
		default:
			return fmt.Errorf("unknown storage.credential %q", s.Credential)
		}
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("unknown storage.type %q", s.Type)
	}

	if s.EvaluationBlob == s.FeedbackBlob {
		return fmt.Errorf("storage.evaluation_blob and storage.feedback_blob must differ")
	}
	if s.Timeout < 0 || s.MaxWriteAttempts < 0 {
		return fmt.Errorf("storage.timeout and storage.max_write_attempts must not be negative")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for i, p := range c.Providers {
		if p.MaxRetries < 0 || p.RetryDelay < 0 || p.RequestsPerMinute < 0 {
			return fmt.Errorf("providers[%d]: max_retries, retry_delay and requests_per_minute must not be negative", i)
		}
		switch p.Type {
		case llm.ProviderAzureOpenAI:
			if p.Endpoint == "" || p.ModelName == "" {
				return fmt.Errorf("providers[%d]: azure_openai needs endpoint and model_name", i)
			}
		case llm.ProviderGemini, llm.ProviderGroq, llm.ProviderOpenRouter:
			if p.APIKey == "" {
				return fmt.Errorf("providers[%d]: %s needs api_key", i, p.Type)
			}
		default:
			return fmt.Errorf("providers[%d]: unknown type %q", i, p.Type)
		}
	}

	return nil
}

// LogLevel returns the parsed logging level
func (c *Config) LogLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
