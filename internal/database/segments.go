package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/transcript-sync/internal/segment"
)

// Recording is a transcript header row.
type Recording struct {
	RecordingID  string    `json:"recording_id"`
	Title        string    `json:"title,omitempty"`
	Language     string    `json:"language,omitempty"`
	Source       string    `json:"source,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	SegmentCount int       `json:"segment_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecordingFilter narrows ListRecordings. Search matches titles and ids.
type RecordingFilter struct {
	Search string
	Limit  int
	Offset int
}

// Segments returns a recording's segments ordered by word_index.
// It implements segment.Store.
func (db *DB) Segments(ctx context.Context, recordingID string) ([]segment.Segment, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT segment_id, word, start_ms, end_ms, speaker, word_index
		FROM transcript_segments
		WHERE recording_id = $1
		ORDER BY word_index
	`, recordingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segs := []segment.Segment{}
	for rows.Next() {
		var s segment.Segment
		if err := rows.Scan(&s.ID, &s.Word, &s.Start, &s.End, &s.Speaker, &s.WordIndex); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(segs) > 0 {
		return segs, nil
	}

	// No words: distinguish an empty transcript from an unknown recording.
	var exists bool
	if err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recordings WHERE recording_id = $1)`, recordingID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, segment.ErrNotFound
	}
	return segs, nil
}

// ReplaceSegments stores a document, replacing any previous transcript of
// the same recording in one transaction.
func (db *DB) ReplaceSegments(ctx context.Context, doc *segment.Document, source string) error {
	if err := segment.Validate(doc.Segments); err != nil {
		return err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO recordings (recording_id, title, language, source, duration_ms, segment_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recording_id) DO UPDATE SET
			title         = EXCLUDED.title,
			language      = EXCLUDED.language,
			source        = EXCLUDED.source,
			duration_ms   = EXCLUDED.duration_ms,
			segment_count = EXCLUDED.segment_count,
			updated_at    = now()
	`, doc.RecordingID, doc.Title, doc.Language, source, doc.DurationMs, len(doc.Segments))
	if err != nil {
		return fmt.Errorf("upsert recording: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM transcript_segments WHERE recording_id = $1`, doc.RecordingID,
	); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}

	copyRows := make([][]any, len(doc.Segments))
	for i, s := range doc.Segments {
		copyRows[i] = []any{doc.RecordingID, s.WordIndex, s.ID, s.Word, s.Start, s.End, s.Speaker}
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"transcript_segments"},
		[]string{"recording_id", "word_index", "segment_id", "word", "start_ms", "end_ms", "speaker"},
		pgx.CopyFromRows(copyRows),
	)
	if err != nil {
		return fmt.Errorf("copy segments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	db.log.Debug().Str("recording_id", doc.RecordingID).Int64("segments", n).Msg("segments replaced")
	return nil
}

// GetRecording returns segment.ErrNotFound for unknown ids.
func (db *DB) GetRecording(ctx context.Context, recordingID string) (*Recording, error) {
	var r Recording
	err := db.Pool.QueryRow(ctx, `
		SELECT recording_id, title, language, source, duration_ms, segment_count, created_at, updated_at
		FROM recordings WHERE recording_id = $1
	`, recordingID).Scan(&r.RecordingID, &r.Title, &r.Language, &r.Source,
		&r.DurationMs, &r.SegmentCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, segment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecordings returns a page of recordings, most recently updated first,
// and the total matching count.
func (db *DB) ListRecordings(ctx context.Context, f RecordingFilter) ([]Recording, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT recording_id, title, language, source, duration_ms, segment_count,
		       created_at, updated_at, count(*) OVER () AS total
		FROM recordings
		WHERE ($1::text IS NULL OR title ILIKE '%' || $1 || '%' OR recording_id ILIKE '%' || $1 || '%')
		ORDER BY updated_at DESC, recording_id
		LIMIT $2 OFFSET $3
	`, pqString(f.Search), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recs := []Recording{}
	total := 0
	for rows.Next() {
		var r Recording
		if err := rows.Scan(&r.RecordingID, &r.Title, &r.Language, &r.Source,
			&r.DurationMs, &r.SegmentCount, &r.CreatedAt, &r.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		recs = append(recs, r)
	}
	return recs, total, rows.Err()
}

// DeleteRecording removes a recording and its segments.
func (db *DB) DeleteRecording(ctx context.Context, recordingID string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM recordings WHERE recording_id = $1`, recordingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return segment.ErrNotFound
	}
	return nil
}
