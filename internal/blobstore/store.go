package blobstore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Options tune a LogStore.
type Options struct {
	// Timeout bounds every operation, retries included. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
	// ConditionalWrites makes Update upload with the version it read and retry
	// on conflicts. Off means last-writer-wins.
	ConditionalWrites bool
	// MaxAttempts caps conditional write attempts.
	MaxAttempts int
	// RetryDelay is the base backoff between conditional write attempts.
	RetryDelay time.Duration
}

// MutateFunc receives the current object content and returns the content to
// upload. Returning changed=false skips the upload.
type MutateFunc func(content string) (updated string, changed bool, err error)

// LogStore is an append-only JSON-lines object stored in a Backend.
//
// Every write replaces the whole object. Without ConditionalWrites two
// overlapping read-modify-write cycles on the same object lose one update.
type LogStore struct {
	backend Backend
	name    string
	opts    Options
	logger  *zap.Logger
}

// NewLogStore creates a log store for the named blob
func NewLogStore(backend Backend, name string, opts Options, logger *zap.Logger) *LogStore {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}

	return &LogStore{
		backend: backend,
		name:    name,
		opts:    opts,
		logger:  logger.With(zap.String("blob", name)),
	}
}

// Name returns the blob name
func (s *LogStore) Name() string {
	return s.name
}

// EnsureContainer creates the backing container if it does not exist yet.
func (s *LogStore) EnsureContainer(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.backend.CreateContainer(ctx)
	if err == nil {
		s.logger.Info("Storage container created")
		return nil
	}
	if errors.Is(err, ErrContainerExists) {
		return nil
	}
	return &StorageError{Op: "create container", Blob: s.name, Err: err}
}

// ReadAll downloads the full object. A missing object reads as empty content.
func (s *LogStore) ReadAll(ctx context.Context) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	content, _, err := s.download(ctx)
	return content, err
}

// AppendLine serializes record as one JSON line and re-uploads the object with
// the line added at the end.
func (s *LogStore) AppendLine(ctx context.Context, record any) error {
	line, err := EncodeLine(record)
	if err != nil {
		return err
	}

	_, err = s.Update(ctx, func(content string) (string, bool, error) {
		if content != "" && content[len(content)-1] != '\n' {
			content += "\n"
		}
		return content + string(line) + "\n", true, nil
	})
	return err
}

// Rewrite replaces the object with lines, unconditionally.
func (s *LogStore) Rewrite(ctx context.Context, lines []string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.upload(ctx, JoinLines(lines), nil)
}

// Update runs one read-modify-write cycle. It reports whether an upload happened.
//
// With ConditionalWrites the upload is guarded by the version that was read;
// on a conflict the object is read again and mutate re-applied.
func (s *LogStore) Update(ctx context.Context, mutate MutateFunc) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	attempts := 1
	if s.opts.ConditionalWrites {
		attempts = s.opts.MaxAttempts
	}

	for attempt := 1; ; attempt++ {
		content, version, err := s.download(ctx)
		if err != nil {
			return false, err
		}

		updated, changed, err := mutate(content)
		if err != nil {
			return false, err
		}
		if !changed {
			return false, nil
		}

		var cond *Precondition
		if s.opts.ConditionalWrites {
			if version == "" {
				cond = &Precondition{IfAbsent: true}
			} else {
				cond = &Precondition{IfMatch: version}
			}
		}

		err = s.upload(ctx, updated, cond)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrConditionNotMet) || attempt >= attempts {
			return false, err
		}

		s.logger.Debug("Blob changed during update, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts))

		select {
		case <-time.After(time.Duration(attempt) * s.opts.RetryDelay):
		case <-ctx.Done():
			return false, &StorageError{Op: "update", Blob: s.name, Err: ctx.Err()}
		}
	}
}

func (s *LogStore) download(ctx context.Context) (string, Version, error) {
	data, version, err := s.backend.Download(ctx, s.name)
	if errors.Is(err, ErrBlobNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", &StorageError{Op: "download", Blob: s.name, Err: err}
	}
	return string(data), version, nil
}

func (s *LogStore) upload(ctx context.Context, content string, cond *Precondition) error {
	if _, err := s.backend.Upload(ctx, s.name, []byte(content), cond); err != nil {
		return &StorageError{Op: "upload", Blob: s.name, Err: err}
	}
	return nil
}

func (s *LogStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}
