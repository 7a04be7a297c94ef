package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the transcript directory for documents missing
// from S3 and uploads them. It covers dropped async uploads and crashes
// between the local write and the upload.
type UploadReconciler struct {
	dir      string
	s3       *S3Store
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

func NewUploadReconciler(dir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { close(r.stop) }

func (r *UploadReconciler) loop() {
	// Let startup uploads settle first.
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// candidates lists recordings whose documents changed within the window.
func (r *UploadReconciler) candidates(now time.Time) []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	cutoff := now.Add(-r.window)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := IDFromFilename(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *UploadReconciler) reconcile() {
	var uploaded, failed int
	ids := r.candidates(time.Now())
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exists := r.s3.Exists(ctx, id)
		cancel()
		if exists {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, id+".json"))
		if err != nil {
			continue
		}
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.s3.put(ctx, id, data); err != nil {
			r.log.Warn().Err(err).Str("recording_id", id).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		cancel()
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", len(ids)).
			Msg("reconcile complete")
	}
}
