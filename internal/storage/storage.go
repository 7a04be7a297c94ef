// Package storage keeps transcript documents on local disk, in S3, or both,
// and adapts them to the segment.Store contract the sync engine reads from.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/config"
	"github.com/snarg/transcript-sync/internal/segment"
)

// DocumentStore abstracts transcript document backends.
type DocumentStore interface {
	// Load returns segment.ErrNotFound for unknown recordings.
	Load(ctx context.Context, recordingID string) (*segment.Document, error)

	// Save replaces the stored document for doc.RecordingID.
	Save(ctx context.Context, doc *segment.Document) error

	// Exists checks if a document exists in any backend.
	Exists(ctx context.Context, recordingID string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidID reports whether a recording id is safe to use as a file name and
// object key.
func ValidID(recordingID string) bool {
	return idPattern.MatchString(recordingID)
}

func checkID(recordingID string) error {
	if !ValidID(recordingID) {
		return fmt.Errorf("%w: bad recording id %q", segment.ErrInvalid, recordingID)
	}
	return nil
}

// New creates a DocumentStore based on config. Returns the store and the
// background services (uploader, reconciler) the caller must Start/Stop.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, dir string, log zerolog.Logger) (DocumentStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	local := NewLocalStore(dir)
	uploader := NewAsyncUploader(s3store, 256, 2, log)
	tiered := NewTieredStore(s3store, local, log).WithUploader(uploader)
	reconciler := NewUploadReconciler(dir, s3store, log)
	return tiered, []BackgroundService{uploader, reconciler}, nil
}
