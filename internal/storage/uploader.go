package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader copies locally saved documents to S3 in the background.
// Jobs carry only the recording id; the worker reads the current document
// from disk, so a burst of saves uploads the latest version.
type AsyncUploader struct {
	s3       *S3Store
	local    *LocalStore
	ch       chan string
	workers  int
	log      zerolog.Logger
	mu       sync.RWMutex // guards stopped against close(ch)
	stopped  bool
	wg       sync.WaitGroup

	uploaded atomic.Int64
	failed   atomic.Int64
}

// NewAsyncUploader creates an uploader with the given queue size and worker
// count. The local tier is bound by TieredStore.WithUploader.
func NewAsyncUploader(s3 *S3Store, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		s3:      s3,
		ch:      make(chan string, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue schedules an upload. Non-blocking: drops with a warning if the
// queue is full or stopped. The reconciler picks up dropped documents.
func (u *AsyncUploader) Enqueue(recordingID string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- recordingID:
	default:
		u.log.Warn().Str("recording_id", recordingID).Msg("upload queue full, skipping (document safe on disk)")
	}
}

func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop drains the queue and waits for the workers.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
}

// Counts returns uploaded and failed totals.
func (u *AsyncUploader) Counts() (uploaded, failed int64) {
	return u.uploaded.Load(), u.failed.Load()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for id := range u.ch {
		if err := u.upload(id); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("recording_id", id).Msg("async S3 upload failed (document safe on disk)")
			continue
		}
		u.uploaded.Add(1)
	}
}

func (u *AsyncUploader) upload(recordingID string) error {
	data, err := u.local.raw(recordingID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return u.s3.put(ctx, recordingID, data)
}
