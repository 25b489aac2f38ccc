package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"rag-chat-service/internal/evaluation"
	"rag-chat-service/internal/feedback"
	"rag-chat-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatCompleter answers a conversation
type ChatCompleter interface {
	Complete(ctx context.Context, messages []models.ChatMessage) *models.ChatResponse
}

// FeedbackSubmitter stores feedback and links it to its evaluation record
type FeedbackSubmitter interface {
	SubmitFeedback(ctx context.Context, fb *models.FeedbackRecord) (*feedback.Reconciliation, error)
}

// EvaluationSummarizer counts evaluation records by feedback
type EvaluationSummarizer interface {
	Summarize(ctx context.Context) (*evaluation.Summary, error)
}

// Handler handles HTTP requests
type Handler struct {
	chat      ChatCompleter
	feedback  FeedbackSubmitter
	summary   EvaluationSummarizer
	staticDir string
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	chat ChatCompleter,
	fb FeedbackSubmitter,
	summary EvaluationSummarizer,
	staticDir string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		chat:      chat,
		feedback:  fb,
		summary:   summary,
		staticDir: staticDir,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/chat/completion", h.ChatCompletion)
		api.POST("/feedback", h.SubmitFeedback)
		api.GET("/evaluations/stats", h.GetEvaluationStats)

		// Health check
		api.GET("/health", h.HealthCheck)
	}

	if h.staticDir == "" {
		return
	}
	if _, err := os.Stat(h.staticDir); err != nil {
		h.logger.Warn("Static directory not found, frontend disabled",
			zap.String("dir", h.staticDir),
			zap.Error(err))
		return
	}

	r.Static("/static", h.staticDir)
	r.GET("/", h.Index)
}

// ChatCompletion answers the conversation. Model failures still return 200
// with an explanatory assistant message.
func (h *Handler) ChatCompletion(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := h.chat.Complete(c.Request.Context(), req.Messages)
	c.JSON(http.StatusOK, resp)
}

// SubmitFeedback stores a thumb up or thumb down for an answer
func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// a client disconnect must not leave the logs half written
	ctx := context.WithoutCancel(c.Request.Context())

	rec, err := h.feedback.SubmitFeedback(ctx, req.Record())
	if err != nil {
		h.logger.Error("Failed to submit feedback",
			zap.String("response_id", req.ResponseID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to save feedback"})
		return
	}

	h.logger.Debug("Feedback submitted",
		zap.String("response_id", req.ResponseID),
		zap.Stringer("reconciliation", rec.Outcome))

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetEvaluationStats returns feedback counts over the evaluation log
func (h *Handler) GetEvaluationStats(c *gin.Context) {
	summary, err := h.summary.Summarize(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to summarize evaluations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read evaluation log"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Index serves the chat page
func (h *Handler) Index(c *gin.Context) {
	c.File(filepath.Join(h.staticDir, "index.html"))
}
