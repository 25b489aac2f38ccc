package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rag-chat-service/internal/azureblob"
	"rag-chat-service/internal/blobstore"
	"rag-chat-service/internal/config"
	"rag-chat-service/internal/evaluation"
	"rag-chat-service/internal/feedback"
	"rag-chat-service/internal/handler"
	"rag-chat-service/internal/llm"
	"rag-chat-service/internal/repository"
	"rag-chat-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger until the configured one is ready
	bootLogger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	configPath := config.Path()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.String("path", configPath), zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting RAG Chat Service...",
		zap.String("config", configPath),
		zap.String("storage", cfg.Storage.Type))

	// Initialize LLM client (multi-provider with rate limiting)
	llmClient, err := llm.NewMultiProviderClient(llm.MultiProviderConfig{
		Providers:    cfg.Providers,
		SystemPrompt: cfg.SystemPrompt,
		MaxFailures:  cfg.MaxFailuresBeforeSwitch,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM providers", zap.Error(err))
	}
	defer llmClient.Close()

	// Initialize storage
	backend, err := openBackend(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer backend.Close()

	storeOpts := blobstore.Options{
		Timeout:           cfg.Storage.Timeout,
		ConditionalWrites: cfg.Storage.ConditionalWrites,
		MaxAttempts:       cfg.Storage.MaxWriteAttempts,
	}
	evaluationLog := blobstore.NewLogStore(backend, cfg.Storage.EvaluationBlob, storeOpts, logger)
	feedbackLog := blobstore.NewLogStore(backend, cfg.Storage.FeedbackBlob, storeOpts, logger)

	// The container may be created out of band, so a failure here is not fatal
	if err := evaluationLog.EnsureContainer(context.Background()); err != nil {
		logger.Warn("Could not ensure storage container, continuing", zap.Error(err))
	}

	// Initialize services
	writer := evaluation.NewWriter(evaluationLog, logger)
	reconciler := feedback.NewReconciler(feedbackLog, evaluationLog, logger)
	chat := service.NewChatService(llmClient, writer, llm.IsRateLimitError, logger)

	// Initialize HTTP handler
	apiHandler := handler.NewHandler(chat, reconciler, writer, cfg.Server.StaticDir, logger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register routes
	apiHandler.RegisterRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", serverAddr))

	// Graceful shutdown
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Get model info for logging
	modelInfo := llmClient.GetModelInfo()
	modelName := "unknown"
	if m, ok := modelInfo["model"].(string); ok {
		modelName = m
	}

	logger.Info("RAG Chat Service is running",
		zap.String("port", cfg.Server.Port),
		zap.String("model", modelName),
		zap.String("evaluation_blob", cfg.Storage.EvaluationBlob),
		zap.String("feedback_blob", cfg.Storage.FeedbackBlob))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second+cfg.Storage.Timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel())
	return zapCfg.Build()
}

func openBackend(cfg config.StorageConfig, logger *zap.Logger) (blobstore.Backend, error) {
	switch cfg.Type {
	case config.StorageAzure:
		return azureblob.NewContainer(azureblob.Config{
			AccountURL:              cfg.AccountURL,
			Container:               cfg.Container,
			Credential:              cfg.Credential,
			ManagedIdentityClientID: cfg.ManagedIdentityClientID,
			ConnectionString:        cfg.ConnectionString,
		}, logger)
	case config.StorageSQLite:
		// Create data directory if not exists
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		container := cfg.Container
		if container == "" {
			container = "local"
		}
		return repository.NewBlobRepository(cfg.SQLitePath, container, logger)
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, logs are lost on restart")
		return blobstore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: %q", blobstore.ErrUnknownBackend, cfg.Type)
	}
}
