package blobstore

import (
	"context"
	"strconv"
	"sync"
)

// MemoryBackend keeps blobs in process memory. It backs local runs without
// cloud storage and the tests.
type MemoryBackend struct {
	mu       sync.Mutex
	created  bool
	blobs    map[string][]byte
	versions map[string]int64
	nextEtag int64
}

// NewMemoryBackend creates an empty in-memory container
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs:    make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (m *MemoryBackend) CreateContainer(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.created {
		return ErrContainerExists
	}
	m.created = true
	return nil
}

func (m *MemoryBackend) Download(ctx context.Context, name string) ([]byte, Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[name]
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, m.version(name), nil
}

func (m *MemoryBackend) Upload(ctx context.Context, name string, data []byte, cond *Precondition) (Version, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.blobs[name]
	if cond != nil {
		if cond.IfAbsent && exists {
			return "", ErrConditionNotMet
		}
		if cond.IfMatch != "" && (!exists || cond.IfMatch != m.version(name)) {
			return "", ErrConditionNotMet
		}
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.blobs[name] = stored
	m.nextEtag++
	m.versions[name] = m.nextEtag
	return m.version(name), nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// Content returns the current blob content, empty if absent
func (m *MemoryBackend) Content(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.blobs[name])
}

// Put stores content directly, bypassing preconditions.
func (m *MemoryBackend) Put(name, content string) {
	_, _ = m.Upload(context.Background(), name, []byte(content), nil)
}

func (m *MemoryBackend) version(name string) Version {
	return Version("mem-" + strconv.FormatInt(m.versions[name], 10))
}
