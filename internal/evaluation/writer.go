package evaluation

import (
	"context"
	"time"

	"rag-chat-service/internal/blobstore"
	"rag-chat-service/internal/models"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Status of an evaluation append
type Status int

const (
	StatusAppended Status = iota
	StatusFailed
)

// Result reports what happened to one evaluation record.
type Result struct {
	Status Status
	Record *models.EvaluationRecord
	Err    error
}

// Turn is one completed chat exchange handed over by the chat service.
type Turn struct {
	ResponseID string
	Messages   []models.ChatMessage
	Completion *models.ChatCompletion
	StartedAt  time.Time
	// RepliedAt is when the model answered; zero means now.
	RepliedAt time.Time
}

// Writer appends evaluation records to the evaluation log
type Writer struct {
	store  *blobstore.LogStore
	logger *zap.Logger
	now    func() time.Time
}

// NewWriter creates a new evaluation writer
func NewWriter(store *blobstore.LogStore, logger *zap.Logger) *Writer {
	return &Writer{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RecordEvaluation appends one record for the turn. Storage failures are
// logged and reported in the result, never returned as an error.
func (w *Writer) RecordEvaluation(ctx context.Context, turn Turn) Result {
	record := w.buildRecord(turn)

	if err := w.store.AppendLine(ctx, record); err != nil {
		w.logger.Error("Failed to append evaluation record",
			zap.String("response_id", turn.ResponseID),
			zap.Error(err))
		return Result{Status: StatusFailed, Record: record, Err: err}
	}

	w.logger.Debug("Evaluation record appended",
		zap.String("response_id", turn.ResponseID),
		zap.Int64("response_time_ms", record.ResponseTimeMS))

	return Result{Status: StatusAppended, Record: record}
}

func (w *Writer) buildRecord(turn Turn) *models.EvaluationRecord {
	now := w.now()

	repliedAt := turn.RepliedAt
	if repliedAt.IsZero() {
		repliedAt = now
	}
	elapsed := repliedAt.Sub(turn.StartedAt).Milliseconds()
	if turn.StartedAt.IsZero() || elapsed < 0 {
		elapsed = 0
	}

	history := turn.Messages
	if history == nil {
		history = []models.ChatMessage{}
	}

	record := &models.EvaluationRecord{
		ResponseID:      turn.ResponseID,
		Timestamp:       now.UTC().Format(models.TimestampLayout),
		UserChatHistory: history,
		AISearchResults: []models.Citation{},
		ResponseTimeMS:  elapsed,
	}

	if c := turn.Completion; c != nil {
		record.DetectedIntent = c.Intent
		record.LLMResponse = c.Content
		if c.Citations != nil {
			record.AISearchResults = c.Citations
		}
	}

	return record
}

// Summary counts the records of the evaluation log.
type Summary struct {
	Total     int `json:"total"`
	ThumbUp   int `json:"thumb_up"`
	ThumbDown int `json:"thumb_down"`
	Pending   int `json:"pending"`
	Malformed int `json:"malformed"`
}

// Summarize scans the evaluation log and counts feedback outcomes.
func (w *Writer) Summarize(ctx context.Context) (*Summary, error) {
	content, err := w.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	var (
		p       fastjson.Parser
		summary Summary
	)
	for _, line := range blobstore.SplitLines(content) {
		v, err := p.Parse(line)
		if err != nil || v.Type() != fastjson.TypeObject {
			summary.Malformed++
			continue
		}

		summary.Total++
		switch models.FeedbackValue(v.GetStringBytes(models.FieldFeedback)) {
		case models.ThumbUp:
			summary.ThumbUp++
		case models.ThumbDown:
			summary.ThumbDown++
		default:
			summary.Pending++
		}
	}

	return &summary, nil
}
