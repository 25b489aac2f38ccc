// Package blobstore keeps append-only JSON-lines objects on storage that can
// only replace whole objects. Appends and record patches are read-modify-write
// cycles over a Backend.
package blobstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrContainerExists = errors.New("container already exists")
	ErrConditionNotMet = errors.New("blob precondition not met")
	ErrMalformedRecord = errors.New("malformed record")
	ErrUnknownBackend  = errors.New("unknown storage backend")
)

// Version identifies one state of a blob (an ETag on Azure).
// The empty Version means the blob does not exist.
type Version string

// Precondition guards an upload. A nil *Precondition overwrites unconditionally.
type Precondition struct {
	IfMatch  Version // upload only if the blob is still at this version
	IfAbsent bool    // upload only if the blob does not exist yet
}

// Backend is whole-object storage for a single container.
type Backend interface {
	// CreateContainer returns ErrContainerExists when the container is already there.
	CreateContainer(ctx context.Context) error
	// Download returns ErrBlobNotFound when the blob does not exist.
	Download(ctx context.Context, name string) ([]byte, Version, error)
	// Upload replaces the blob content. Failed preconditions return ErrConditionNotMet.
	Upload(ctx context.Context, name string, data []byte, cond *Precondition) (Version, error)
	Close() error
}

// StorageError reports a failed call to the backing store.
type StorageError struct {
	Op   string
	Blob string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Blob, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
