package storage

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/segment"
)

// TieredStore combines local disk (source of truth) with S3 (backup).
// Writes go to disk first and are then pushed to S3. Reads try disk and fall
// back to S3, caching what they fetch.
type TieredStore struct {
	s3       *S3Store
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

func NewTieredStore(s3 *S3Store, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		s3:    s3,
		local: local,
		log:   log.With().Str("component", "tiered-store").Logger(),
	}
}

// WithUploader moves S3 writes off the request path.
func (s *TieredStore) WithUploader(u *AsyncUploader) *TieredStore {
	u.local = s.local
	s.uploader = u
	return s
}

// Save writes to local disk (fatal on failure), then S3 (warning on failure;
// the reconciler retries).
func (s *TieredStore) Save(ctx context.Context, doc *segment.Document) error {
	if err := s.local.Save(ctx, doc); err != nil {
		return err
	}
	if s.uploader != nil {
		s.uploader.Enqueue(doc.RecordingID)
		return nil
	}
	if err := s.s3.Save(ctx, doc); err != nil {
		s.log.Warn().Err(err).Str("recording_id", doc.RecordingID).Msg("S3 backup write failed, reconciler will retry")
	}
	return nil
}

func (s *TieredStore) Load(ctx context.Context, recordingID string) (*segment.Document, error) {
	doc, err := s.local.Load(ctx, recordingID)
	if err == nil || !errors.Is(err, segment.ErrNotFound) {
		return doc, err
	}

	data, err := s.s3.get(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.local.write(recordingID, data); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("recording_id", recordingID).Msg("failed to cache S3 document locally")
	}
	return s.local.decode(recordingID, data)
}

func (s *TieredStore) Exists(ctx context.Context, recordingID string) bool {
	if s.local.Exists(ctx, recordingID) {
		return true
	}
	return s.s3.Exists(ctx, recordingID)
}

func (s *TieredStore) Type() string { return "tiered" }

// Local returns the disk tier, which the transcript watcher observes.
func (s *TieredStore) Local() *LocalStore { return s.local }
