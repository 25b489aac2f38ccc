// Package feedback records user feedback and links it back to the evaluation
// record of the answer it rates.
package feedback

import (
	"context"
	"fmt"

	"rag-chat-service/internal/blobstore"
	"rag-chat-service/internal/models"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Outcome of linking feedback to its evaluation record
type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeNotFound
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Reconciliation reports the evaluation log patch for one feedback.
type Reconciliation struct {
	Outcome Outcome
	// Line is the zero-based index of the patched record among non-empty lines.
	Line int
	// Skipped counts lines that could not be parsed before the scan stopped.
	Skipped int
	Err     error
}

// Reconciler appends feedback to the feedback log and patches the matching
// evaluation record.
type Reconciler struct {
	feedbackLog   *blobstore.LogStore
	evaluationLog *blobstore.LogStore
	logger        *zap.Logger
}

// NewReconciler creates a new feedback reconciler
func NewReconciler(feedbackLog, evaluationLog *blobstore.LogStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		feedbackLog:   feedbackLog,
		evaluationLog: evaluationLog,
		logger:        logger,
	}
}

// SubmitFeedback stores the feedback record, then tries to patch the first
// evaluation record with the same response_id.
//
// Only a failed feedback append is returned as an error. Reconciliation
// problems are logged and described by the returned Reconciliation.
func (r *Reconciler) SubmitFeedback(ctx context.Context, fb *models.FeedbackRecord) (*Reconciliation, error) {
	if err := r.feedbackLog.AppendLine(ctx, fb); err != nil {
		r.logger.Error("Failed to save feedback",
			zap.String("response_id", fb.ResponseID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}

	rec := r.reconcile(ctx, fb)

	switch rec.Outcome {
	case OutcomeUpdated:
		r.logger.Info("Evaluation record updated with feedback",
			zap.String("response_id", fb.ResponseID),
			zap.String("feedback", string(fb.Feedback)),
			zap.Int("line", rec.Line))
	case OutcomeNotFound:
		r.logger.Warn("No matching evaluation record found for feedback",
			zap.String("response_id", fb.ResponseID),
			zap.Int("skipped_lines", rec.Skipped))
	case OutcomeFailed:
		r.logger.Error("Failed to update evaluation log with feedback",
			zap.String("response_id", fb.ResponseID),
			zap.Error(rec.Err))
	}

	return rec, nil
}

func (r *Reconciler) reconcile(ctx context.Context, fb *models.FeedbackRecord) *Reconciliation {
	rec := &Reconciliation{Outcome: OutcomeNotFound, Line: -1}

	_, err := r.evaluationLog.Update(ctx, func(content string) (string, bool, error) {
		// reset on every attempt, a conditional write may re-run this
		*rec = Reconciliation{Outcome: OutcomeNotFound, Line: -1}

		lines := blobstore.SplitLines(content)
		idx, patched, skipped := r.patchFirstMatch(lines, fb)
		rec.Skipped = skipped
		if idx < 0 {
			return content, false, nil
		}

		lines[idx] = patched
		rec.Outcome = OutcomeUpdated
		rec.Line = idx
		return blobstore.JoinLines(lines), true, nil
	})
	if err != nil {
		return &Reconciliation{Outcome: OutcomeFailed, Line: -1, Skipped: rec.Skipped, Err: err}
	}

	return rec
}

// patchFirstMatch scans lines in order and patches the first record whose
// response_id matches. Unparseable lines are logged and left untouched.
func (r *Reconciler) patchFirstMatch(lines []string, fb *models.FeedbackRecord) (int, string, int) {
	var (
		p       fastjson.Parser
		skipped int
	)

	for i, line := range lines {
		v, err := p.Parse(line)
		if err == nil && v.Type() != fastjson.TypeObject {
			err = fmt.Errorf("line is a JSON %s, not an object", v.Type())
		}
		if err != nil {
			skipped++
			r.logger.Error("Error parsing evaluation record",
				zap.Int("line", i),
				zap.Error(fmt.Errorf("%w: %v", blobstore.ErrMalformedRecord, err)))
			continue
		}

		id := v.Get(models.FieldResponseID)
		if id == nil || id.Type() != fastjson.TypeString || string(id.GetStringBytes()) != fb.ResponseID {
			continue
		}

		return i, string(applyFeedback(v, fb)), skipped
	}

	return -1, "", skipped
}

// applyFeedback patches the parsed record in place and re-serializes it.
// Key order and fields it does not touch are preserved.
func applyFeedback(v *fastjson.Value, fb *models.FeedbackRecord) []byte {
	var a fastjson.Arena

	v.Set(models.FieldFeedback, a.NewString(string(fb.Feedback)))
	v.Set(models.FieldFeedbackTimestamp, a.NewString(fb.Timestamp))

	switch fb.Feedback {
	case models.ThumbUp:
		// an approved answer needs no correction
		v.Set(models.FieldGroundedAnswer, a.NewString(""))
		v.Set(models.FieldFailedReason, a.NewString(""))
	case models.ThumbDown:
		v.Set(models.FieldGroundedAnswer, a.NewString(fb.GroundedAnswer))
		v.Set(models.FieldFailedReason, a.NewString(fb.FailedReason))
	}

	return v.MarshalTo(nil)
}
