package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rag-chat-service/internal/blobstore"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// BlobRepository emulates a blob container on SQLite for local development.
// Each row holds a whole object plus a version counter used as its ETag.
type BlobRepository struct {
	db        *sql.DB
	container string
	logger    *zap.Logger
}

// NewBlobRepository opens the database and creates the tables
func NewBlobRepository(dbPath, container string, logger *zap.Logger) (*BlobRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	repo := &BlobRepository{
		db:        db,
		container: container,
		logger:    logger,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Blob repository initialized",
		zap.String("db_path", dbPath),
		zap.String("container", container))

	return repo, nil
}

// migrate creates tables
func (r *BlobRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS containers (
		name TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blobs (
		container TEXT NOT NULL,
		name TEXT NOT NULL,
		content BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (container, name)
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

// CreateContainer registers the container
func (r *BlobRepository) CreateContainer(ctx context.Context) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO containers (name, created_at) VALUES (?, ?)`,
		r.container, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return blobstore.ErrContainerExists
	}
	return nil
}

// Download reads a blob and its version
func (r *BlobRepository) Download(ctx context.Context, name string) ([]byte, blobstore.Version, error) {
	var (
		content []byte
		version int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT content, version FROM blobs WHERE container = ? AND name = ?`,
		r.container, name).Scan(&content, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", blobstore.ErrBlobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get blob: %w", err)
	}

	return content, formatVersion(version), nil
}

// Upload writes a blob, honoring the precondition
func (r *BlobRepository) Upload(ctx context.Context, name string, data []byte, cond *blobstore.Precondition) (blobstore.Version, error) {
	now := time.Now()

	var (
		result sql.Result
		err    error
	)

	switch {
	case cond != nil && cond.IfAbsent:
		result, err = r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO blobs (container, name, content, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
		`, r.container, name, data, now)
	case cond != nil && cond.IfMatch != "":
		version, perr := parseVersion(cond.IfMatch)
		if perr != nil {
			return "", blobstore.ErrConditionNotMet
		}
		result, err = r.db.ExecContext(ctx, `
			UPDATE blobs
			SET content = ?, version = version + 1, updated_at = ?
			WHERE container = ? AND name = ? AND version = ?
		`, data, now, r.container, name, version)
	default:
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO blobs (container, name, content, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (container, name) DO UPDATE
			SET content = excluded.content, version = blobs.version + 1, updated_at = excluded.updated_at
		`, r.container, name, data, now)
	}
	if err != nil {
		return "", fmt.Errorf("failed to save blob: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return "", blobstore.ErrConditionNotMet
	}

	var version int64
	err = r.db.QueryRowContext(ctx,
		`SELECT version FROM blobs WHERE container = ? AND name = ?`,
		r.container, name).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to read blob version: %w", err)
	}

	return formatVersion(version), nil
}

// Close closes the database connection
func (r *BlobRepository) Close() error {
	return r.db.Close()
}

func formatVersion(v int64) blobstore.Version {
	return blobstore.Version(strconv.FormatInt(v, 10))
}

func parseVersion(v blobstore.Version) (int64, error) {
	return strconv.ParseInt(string(v), 10, 64)
}
