package models

// TimestampLayout is the UTC layout used for evaluation timestamps.
const TimestampLayout = "2006-01-02T15:04:05Z"

// EvaluationRecord is one line of the evaluation log, written once per chat turn.
// The feedback fields stay absent until the feedback reconciler patches the line.
type EvaluationRecord struct {
	ResponseID        string        `json:"response_id"`
	Timestamp         string        `json:"timestamp"`
	UserChatHistory   []ChatMessage `json:"user_chat_history"`
	DetectedIntent    string        `json:"detected_intent"`
	AISearchResults   []Citation    `json:"ai_search_results"`
	LLMResponse       string        `json:"llm_response"`
	ResponseTimeMS    int64         `json:"response_time_ms"`
	Feedback          *string       `json:"feedback,omitempty"`
	FeedbackTimestamp *string       `json:"feedback_timestamp,omitempty"`
	GroundedAnswer    *string       `json:"grounded_answer,omitempty"`
	FailedReason      *string       `json:"failed_reason,omitempty"`
}

// Evaluation log field names touched by reconciliation.
const (
	FieldResponseID        = "response_id"
	FieldFeedback          = "feedback"
	FieldFeedbackTimestamp = "feedback_timestamp"
	FieldGroundedAnswer    = "grounded_answer"
	FieldFailedReason      = "failed_reason"
)
