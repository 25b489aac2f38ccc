package models

import "time"

// FeedbackValue is the user's verdict on an answer.
type FeedbackValue string

const (
	ThumbUp   FeedbackValue = "thumb_up"
	ThumbDown FeedbackValue = "thumb_down"
)

// FeedbackRequest for the feedback endpoint
type FeedbackRequest struct {
	ResponseID     string        `json:"response_id" binding:"required"`
	Question       string        `json:"question" binding:"required"`
	Answer         string        `json:"answer" binding:"required"`
	Feedback       FeedbackValue `json:"feedback" binding:"required,oneof=thumb_up thumb_down"`
	GroundedAnswer string        `json:"grounded_answer"`
	FailedReason   string        `json:"failed_reason"`
	Timestamp      time.Time     `json:"timestamp" binding:"required"`
}

// FeedbackRecord is one line of the feedback log. It is appended verbatim and never mutated.
type FeedbackRecord struct {
	ResponseID     string        `json:"response_id"`
	Question       string        `json:"question"`
	Answer         string        `json:"answer"`
	Feedback       FeedbackValue `json:"feedback"`
	GroundedAnswer string        `json:"grounded_answer"`
	FailedReason   string        `json:"failed_reason,omitempty"`
	Timestamp      string        `json:"timestamp"`
}

// Record converts the request into the stored record.
func (r *FeedbackRequest) Record() *FeedbackRecord {
	return &FeedbackRecord{
		ResponseID:     r.ResponseID,
		Question:       r.Question,
		Answer:         r.Answer,
		Feedback:       r.Feedback,
		GroundedAnswer: r.GroundedAnswer,
		FailedReason:   r.FailedReason,
		Timestamp:      r.Timestamp.Format(time.RFC3339Nano),
	}
}
