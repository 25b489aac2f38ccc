package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rag-chat-service/internal/evaluation"
	"rag-chat-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const highDemandReply = "The AI service is currently experiencing high demand. Please wait a moment and try again."

// LLMClient interface for any LLM provider
type LLMClient interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (*models.ChatCompletion, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// EvaluationRecorder persists one evaluation record per answered turn
type EvaluationRecorder interface {
	RecordEvaluation(ctx context.Context, turn evaluation.Turn) evaluation.Result
}

// ChatService answers chat turns and records them for evaluation
type ChatService struct {
	llmClient     LLMClient
	recorder      EvaluationRecorder
	isRateLimited func(error) bool
	logger        *zap.Logger
	now           func() time.Time
	newResponseID func() string
}

// NewChatService creates a new chat service
func NewChatService(
	llmClient LLMClient,
	recorder EvaluationRecorder,
	isRateLimited func(error) bool,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		llmClient:     llmClient,
		recorder:      recorder,
		isRateLimited: isRateLimited,
		logger:        logger,
		now:           time.Now,
		newResponseID: func() string { return uuid.New().String() },
	}
}

// Complete answers the conversation. Model failures never surface as errors:
// the caller gets a synthesized assistant message without a response_id.
func (s *ChatService) Complete(ctx context.Context, messages []models.ChatMessage) *models.ChatResponse {
	responseID := s.newResponseID()
	started := s.now()

	completion, err := s.llmClient.Complete(ctx, messages)
	if err != nil {
		s.logger.Error("Chat completion failed",
			zap.String("response_id", responseID),
			zap.Error(err))
		return s.errorReply(err)
	}
	replied := s.now()

	if completion.Intent == "" {
		completion.Intent = intentFromContent(completion.Content)
	}

	// the record must land even if the client hangs up
	result := s.recorder.RecordEvaluation(context.WithoutCancel(ctx), evaluation.Turn{
		ResponseID: responseID,
		Messages:   messages,
		Completion: completion,
		StartedAt:  started,
		RepliedAt:  replied,
	})

	s.logger.Info("Chat completion served",
		zap.String("response_id", responseID),
		zap.String("provider", completion.Provider),
		zap.Int("citations", len(completion.Citations)),
		zap.Duration("latency", replied.Sub(started)),
		zap.Bool("evaluation_recorded", result.Status == evaluation.StatusAppended))

	citations := completion.Citations
	if citations == nil {
		citations = []models.Citation{}
	}

	return &models.ChatResponse{
		ResponseID: responseID,
		Model:      completion.Model,
		Choices: []models.ChatChoice{{
			Index: 0,
			Message: models.AssistantMessage{
				Role:    "assistant",
				Content: completion.Content,
				Context: &models.MessageContext{
					Citations: citations,
					Intent:    completion.Intent,
				},
			},
			FinishReason: completion.FinishReason,
		}},
	}
}

func (s *ChatService) errorReply(err error) *models.ChatResponse {
	content := fmt.Sprintf("An error occurred: %v", err)
	if s.isRateLimited != nil && s.isRateLimited(err) {
		content = highDemandReply
	}

	return &models.ChatResponse{
		Choices: []models.ChatChoice{{
			Index: 0,
			Message: models.AssistantMessage{
				Role:    "assistant",
				Content: content,
			},
		}},
	}
}

// intentFromContent reads an "Intent: ..." first line, case-insensitively.
func intentFromContent(content string) string {
	const prefix = "intent:"
	if len(content) < len(prefix) || !strings.EqualFold(content[:len(prefix)], prefix) {
		return ""
	}
	firstLine, _, _ := strings.Cut(content, "\n")
	return strings.TrimSpace(firstLine[len(prefix):])
}
