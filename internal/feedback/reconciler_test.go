package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"rag-chat-service/internal/blobstore"
	"rag-chat-service/internal/models"

	"go.uber.org/zap/zaptest"
)

const (
	feedbackBlob   = "feedback.jsonl"
	evaluationBlob = "evaluation.jsonl"
	feedbackTime   = "2024-05-01T12:00:00Z"
)

// faultyBackend fails uploads or downloads of selected blobs.
type faultyBackend struct {
	*blobstore.MemoryBackend
	failUpload   map[string]bool
	failDownload map[string]bool
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{
		MemoryBackend: blobstore.NewMemoryBackend(),
		failUpload:    make(map[string]bool),
		failDownload:  make(map[string]bool),
	}
}

func (b *faultyBackend) Download(ctx context.Context, name string) ([]byte, blobstore.Version, error) {
	if b.failDownload[name] {
		return nil, "", errors.New("storage unavailable")
	}
	return b.MemoryBackend.Download(ctx, name)
}

func (b *faultyBackend) Upload(ctx context.Context, name string, data []byte, cond *blobstore.Precondition) (blobstore.Version, error) {
	if b.failUpload[name] {
		return "", errors.New("storage unavailable")
	}
	return b.MemoryBackend.Upload(ctx, name, data, cond)
}

func newTestReconciler(t *testing.T, backend blobstore.Backend) *Reconciler {
	logger := zaptest.NewLogger(t)
	return NewReconciler(
		blobstore.NewLogStore(backend, feedbackBlob, blobstore.Options{}, logger),
		blobstore.NewLogStore(backend, evaluationBlob, blobstore.Options{}, logger),
		logger,
	)
}

func decodeLines(t *testing.T, content string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range blobstore.SplitLines(content) {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestSubmitFeedback_ThumbDownScenario(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob, "{\"response_id\":\"a1\",\"feedback\":null}\n")
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID:     "a1",
		Feedback:       models.ThumbDown,
		GroundedAnswer: "Paris",
		Timestamp:      feedbackTime,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if rec.Outcome != OutcomeUpdated || rec.Line != 0 {
		t.Errorf("unexpected reconciliation %+v", rec)
	}

	records := decodeLines(t, backend.Content(evaluationBlob))
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got["feedback"] != "thumb_down" || got["grounded_answer"] != "Paris" || got["failed_reason"] != "" {
		t.Errorf("unexpected record %v", got)
	}
	if got["feedback_timestamp"] != feedbackTime {
		t.Errorf("unexpected feedback_timestamp %v", got["feedback_timestamp"])
	}
}

func TestSubmitFeedback_EmptyEvaluationLog(t *testing.T) {
	backend := newFaultyBackend()
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "missing",
		Question:   "q",
		Answer:     "a",
		Feedback:   models.ThumbUp,
		Timestamp:  feedbackTime,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if rec.Outcome != OutcomeNotFound {
		t.Errorf("expected not found, got %v", rec.Outcome)
	}

	feedbackLines := decodeLines(t, backend.Content(feedbackBlob))
	if len(feedbackLines) != 1 || feedbackLines[0]["response_id"] != "missing" {
		t.Errorf("expected one feedback line, got %v", feedbackLines)
	}
	if got := backend.Content(evaluationBlob); got != "" {
		t.Errorf("evaluation log should stay empty, got %q", got)
	}
}

func TestSubmitFeedback_FirstMatchWins(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob, strings.Join([]string{
		`{"response_id":"other","llm_response":"x"}`,
		`{"response_id":"dup","llm_response":"first"}`,
		`{"response_id":"dup","llm_response":"second"}`,
	}, "\n")+"\n")
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "dup",
		Feedback:   models.ThumbUp,
		Timestamp:  feedbackTime,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Line != 1 {
		t.Errorf("expected line 1 patched, got %d", rec.Line)
	}

	records := decodeLines(t, backend.Content(evaluationBlob))
	if records[1]["feedback"] != "thumb_up" {
		t.Errorf("first duplicate should be patched: %v", records[1])
	}
	if _, ok := records[2]["feedback"]; ok {
		t.Errorf("second duplicate must stay untouched: %v", records[2])
	}
	if _, ok := records[0]["feedback"]; ok {
		t.Errorf("unrelated record must stay untouched: %v", records[0])
	}
}

func TestSubmitFeedback_ThumbUpClearsCorrections(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob,
		`{"response_id":"a1","grounded_answer":"Lyon","failed_reason":"wrong city","feedback":"thumb_down"}`+"\n")
	r := newTestReconciler(t, backend)

	_, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID:     "a1",
		Feedback:       models.ThumbUp,
		GroundedAnswer: "ignored",
		FailedReason:   "ignored",
		Timestamp:      feedbackTime,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := decodeLines(t, backend.Content(evaluationBlob))[0]
	if got["grounded_answer"] != "" || got["failed_reason"] != "" || got["feedback"] != "thumb_up" {
		t.Errorf("thumb_up should clear corrections, got %v", got)
	}
}

func TestSubmitFeedback_ThumbDownSetsCorrections(t *testing.T) {
	tests := []struct {
		name           string
		groundedAnswer string
		failedReason   string
	}{
		{name: "with values", groundedAnswer: "Paris", failedReason: "hallucinated"},
		{name: "omitted values", groundedAnswer: "", failedReason: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFaultyBackend()
			backend.Put(evaluationBlob, `{"response_id":"a1"}`+"\n")
			r := newTestReconciler(t, backend)

			_, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
				ResponseID:     "a1",
				Feedback:       models.ThumbDown,
				GroundedAnswer: tt.groundedAnswer,
				FailedReason:   tt.failedReason,
				Timestamp:      feedbackTime,
			})
			if err != nil {
				t.Fatal(err)
			}

			got := decodeLines(t, backend.Content(evaluationBlob))[0]
			if got["grounded_answer"] != tt.groundedAnswer || got["failed_reason"] != tt.failedReason {
				t.Errorf("unexpected corrections %v", got)
			}
			if _, ok := got["grounded_answer"]; !ok {
				t.Error("grounded_answer must be present after thumb_down")
			}
		})
	}
}

func TestSubmitFeedback_MalformedLinesAreSkipped(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob, "not json\n[1,2]\n{\"response_id\":\"a1\",\"extra\":{\"k\":1},\"llm_response\":\"hi\"}\n{broken\n")
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "a1",
		Feedback:   models.ThumbUp,
		Timestamp:  feedbackTime,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != OutcomeUpdated || rec.Line != 2 || rec.Skipped != 2 {
		t.Errorf("unexpected reconciliation %+v", rec)
	}

	lines := blobstore.SplitLines(backend.Content(evaluationBlob))
	if len(lines) != 4 || lines[0] != "not json" || lines[1] != "[1,2]" || lines[3] != "{broken" {
		t.Errorf("malformed lines must be kept verbatim, got %q", lines)
	}
	want := `{"response_id":"a1","extra":{"k":1},"llm_response":"hi","feedback":"thumb_up","feedback_timestamp":"2024-05-01T12:00:00Z","grounded_answer":"","failed_reason":""}`
	if lines[2] != want {
		t.Errorf("expected patched line\n%s\ngot\n%s", want, lines[2])
	}
}

func TestSubmitFeedback_EntirelyMalformedLogStillSucceeds(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob, "garbage\n{also garbage\n")
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "a1",
		Feedback:   models.ThumbDown,
		Timestamp:  feedbackTime,
	})
	if err != nil {
		t.Fatalf("submit should succeed, got %v", err)
	}
	if rec.Outcome != OutcomeNotFound || rec.Skipped != 2 {
		t.Errorf("unexpected reconciliation %+v", rec)
	}
	if got := backend.Content(evaluationBlob); got != "garbage\n{also garbage\n" {
		t.Errorf("evaluation log must not be rewritten, got %q", got)
	}
}

func TestSubmitFeedback_ReconciliationFailureIsSilent(t *testing.T) {
	backend := newFaultyBackend()
	backend.failDownload[evaluationBlob] = true
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "a1",
		Feedback:   models.ThumbUp,
		Timestamp:  feedbackTime,
	})
	if err != nil {
		t.Fatalf("reconciliation failures must not fail the submission, got %v", err)
	}
	if rec.Outcome != OutcomeFailed || rec.Err == nil {
		t.Errorf("expected failed outcome, got %+v", rec)
	}
	if len(blobstore.SplitLines(backend.Content(feedbackBlob))) != 1 {
		t.Error("feedback should still be recorded")
	}
}

func TestSubmitFeedback_RewriteFailureIsSilent(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob, `{"response_id":"a1"}`+"\n")
	backend.failUpload[evaluationBlob] = true
	r := newTestReconciler(t, backend)

	rec, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "a1",
		Feedback:   models.ThumbUp,
		Timestamp:  feedbackTime,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %v", rec.Outcome)
	}
}

func TestSubmitFeedback_FeedbackAppendFailureIsReturned(t *testing.T) {
	backend := newFaultyBackend()
	backend.Put(evaluationBlob, `{"response_id":"a1"}`+"\n")
	backend.failUpload[feedbackBlob] = true
	r := newTestReconciler(t, backend)

	_, err := r.SubmitFeedback(context.Background(), &models.FeedbackRecord{
		ResponseID: "a1",
		Feedback:   models.ThumbUp,
		Timestamp:  feedbackTime,
	})

	var storageErr *blobstore.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if got := backend.Content(evaluationBlob); strings.Contains(got, "thumb_up") {
		t.Errorf("evaluation log must not be patched when feedback append fails, got %q", got)
	}
}
