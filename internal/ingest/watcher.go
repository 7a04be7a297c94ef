package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/api"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/storage"
)

// EventTranscriptUpdated is published after a watched document is applied.
const EventTranscriptUpdated = "transcript_updated"

// Reloader swaps the segments of every live session of a recording.
type Reloader interface {
	Reload(recordingID string, segs []segment.Segment) int
}

// Importer persists a document into the Segment Store.
type Importer interface {
	ReplaceSegments(ctx context.Context, doc *segment.Document, source string) error
}

// Invalidator drops cached segments for a recording.
type Invalidator interface {
	Invalidate(ctx context.Context, recordingID string) error
}

type WatcherOptions struct {
	Dir      string
	Sessions Reloader
	Importer Importer    // optional
	Cache    Invalidator // optional
	Bus      *EventBus   // optional
	// Backfill imports every document already in Dir on start. Only
	// meaningful with an Importer.
	Backfill bool
	Debounce time.Duration
	Log      zerolog.Logger
}

// Watcher follows a transcript directory and applies edited {id}.json
// documents to live sessions.
type Watcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	// Coalesce the Create+Write bursts editors produce.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// Digest of the last applied segments per recording. Lets an API
	// upload and the file event it causes apply once.
	appliedMu sync.Mutex
	applied   map[string][sha256.Size]byte

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	filesFailed    atomic.Int64
	status         atomic.Value // "starting", "backfilling", "watching", "stopped"
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	w := &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		applied:        make(map[string][sha256.Size]byte),
	}
	w.status.Store("starting")
	return w
}

// Start begins watching. Backfill, when enabled, runs in the background.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.opts.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	w.watcher = fw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.log.Info().Str("watch_dir", w.opts.Dir).Msg("transcript watcher initialized")

	go w.watchLoop(ctx)
	if w.opts.Backfill && w.opts.Importer != nil {
		go w.backfill(ctx)
	} else {
		w.status.Store("watching")
	}
	return nil
}

// Stop closes the watcher and cancels pending debounced work.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}
	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Int64("files_failed", w.filesFailed.Load()).
		Msg("transcript watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (w *Watcher) Status() *api.WatcherStatusData {
	s, _ := w.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       w.opts.Dir,
		FilesProcessed: w.filesProcessed.Load(),
		FilesSkipped:   w.filesSkipped.Load(),
		FilesFailed:    w.filesFailed.Load(),
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Atomic temp+rename saves arrive as Create on the target.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, ok := storage.IDFromFilename(filepath.Base(event.Name)); !ok {
				continue
			}
			w.scheduleProcess(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) scheduleProcess(ctx context.Context, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := w.processFile(ctx, path); err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("failed to apply transcript")
		}
	})
}

var errSkipped = errors.New("not a transcript document")

// processFile decodes one document and pushes it through import, cache
// invalidation and live session reload.
func (w *Watcher) processFile(ctx context.Context, path string) error {
	id, ok := storage.IDFromFilename(filepath.Base(path))
	if !ok {
		w.filesSkipped.Add(1)
		return errSkipped
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		// Removed before the debounce fired.
		w.filesSkipped.Add(1)
		return nil
	}
	if err != nil {
		w.filesFailed.Add(1)
		return err
	}
	doc, err := segment.DecodeDocument(f)
	f.Close()
	if err != nil {
		w.filesFailed.Add(1)
		metrics.TranscriptReloadsTotal.WithLabelValues("invalid").Inc()
		return err
	}
	if doc.RecordingID != id {
		w.filesFailed.Add(1)
		return fmt.Errorf("%w: file holds recording %q", segment.ErrInvalid, doc.RecordingID)
	}
	if _, err := w.Apply(ctx, doc, path); err != nil {
		w.filesFailed.Add(1)
		return err
	}
	w.filesProcessed.Add(1)
	return nil
}

// Apply pushes a decoded document through import, cache invalidation and
// live session reload, and returns how many sessions were updated. A
// document whose segments match the last one applied for the recording is
// a no-op.
func (w *Watcher) Apply(ctx context.Context, doc *segment.Document, source string) (int, error) {
	id := doc.RecordingID
	digest, err := segmentsDigest(doc.Segments)
	if err != nil {
		return 0, err
	}
	w.appliedMu.Lock()
	prev, seen := w.applied[id]
	w.appliedMu.Unlock()
	if seen && prev == digest {
		w.log.Debug().Str("recording_id", id).Msg("transcript unchanged")
		return 0, nil
	}

	if w.opts.Importer != nil {
		if err := w.opts.Importer.ReplaceSegments(ctx, doc, source); err != nil {
			metrics.TranscriptReloadsTotal.WithLabelValues("import_error").Inc()
			return 0, fmt.Errorf("import %s: %w", id, err)
		}
	}
	if w.opts.Cache != nil {
		if err := w.opts.Cache.Invalidate(ctx, id); err != nil {
			w.log.Warn().Err(err).Str("recording_id", id).Msg("cache invalidation failed")
		}
	}
	sessions := 0
	if w.opts.Sessions != nil {
		sessions = w.opts.Sessions.Reload(id, doc.Segments)
	}

	w.appliedMu.Lock()
	w.applied[id] = digest
	w.appliedMu.Unlock()

	if w.opts.Bus != nil {
		w.opts.Bus.Publish(EventData{
			Type:        EventTranscriptUpdated,
			RecordingID: id,
			Payload: map[string]any{
				"recording_id":  id,
				"segment_count": len(doc.Segments),
				"sessions":      sessions,
			},
		})
	}
	metrics.TranscriptReloadsTotal.WithLabelValues("ok").Inc()
	w.log.Info().
		Str("recording_id", id).
		Str("source", source).
		Int("segments", len(doc.Segments)).
		Int("sessions", sessions).
		Msg("transcript applied")
	return sessions, nil
}

func segmentsDigest(segs []segment.Segment) ([sha256.Size]byte, error) {
	data, err := json.Marshal(segs)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// backfill imports every document already present in the directory.
func (w *Watcher) backfill(ctx context.Context) {
	w.status.Store("backfilling")
	start := time.Now()

	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.Error().Err(err).Msg("backfill: read dir failed")
		w.status.Store("watching")
		return
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := storage.IDFromFilename(e.Name()); ok {
			files = append(files, filepath.Join(w.opts.Dir, e.Name()))
		}
	}
	w.log.Info().Int("files", len(files)).Msg("backfill starting")

	const numWorkers = 4
	work := make(chan string, numWorkers*2)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range work {
				if err := w.processFile(ctx, path); err != nil {
					w.log.Warn().Err(err).Str("path", path).Msg("backfill: skipped document")
				}
			}
		}()
	}

	for _, path := range files {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			w.log.Info().Msg("backfill interrupted by shutdown")
			return
		case work <- path:
		}
	}
	close(work)
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	w.status.Store("watching")
	w.log.Info().
		Int64("processed", w.filesProcessed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}
