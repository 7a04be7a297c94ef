package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snarg/transcript-sync/internal/segment"
)

func testDoc(id string) *segment.Document {
	return &segment.Document{
		RecordingID: id,
		Title:       "standup",
		Segments: []segment.Segment{
			{ID: id + "-0", Word: "good", Start: 0, End: 200, WordIndex: 0},
			{ID: id + "-1", Word: "morning", Start: 200, End: 650, WordIndex: 1},
		},
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"rec-1", true},
		{"2026.03.01_call", true},
		{"", false},
		{".hidden", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{"with space", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save_then_load", func(t *testing.T) {
		s := NewLocalStore(filepath.Join(t.TempDir(), "nested"))
		if err := s.Save(ctx, testDoc("rec-1")); err != nil {
			t.Fatalf("Save: %v", err)
		}
		doc, err := s.Load(ctx, "rec-1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if doc.Title != "standup" || len(doc.Segments) != 2 {
			t.Errorf("loaded %+v", doc)
		}
		if doc.DurationMs != 650 {
			t.Errorf("DurationMs = %d, want 650", doc.DurationMs)
		}
		if !s.Exists(ctx, "rec-1") {
			t.Error("Exists = false after Save")
		}
	})

	t.Run("unknown_is_not_found", func(t *testing.T) {
		s := NewLocalStore(t.TempDir())
		if _, err := s.Load(ctx, "missing"); !errors.Is(err, segment.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("bad_id_rejected", func(t *testing.T) {
		s := NewLocalStore(t.TempDir())
		if _, err := s.Load(ctx, "../x"); !errors.Is(err, segment.ErrInvalid) {
			t.Errorf("Load err = %v, want ErrInvalid", err)
		}
		if err := s.Save(ctx, testDoc("a/b")); !errors.Is(err, segment.ErrInvalid) {
			t.Errorf("Save err = %v, want ErrInvalid", err)
		}
	})

	t.Run("mismatched_recording_id", func(t *testing.T) {
		dir := t.TempDir()
		s := NewLocalStore(dir)
		if err := s.Save(ctx, testDoc("rec-1")); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(s.Path("rec-1"), s.Path("rec-2")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Load(ctx, "rec-2"); !errors.Is(err, segment.ErrInvalid) {
			t.Errorf("err = %v, want ErrInvalid", err)
		}
	})

	t.Run("ids_skip_temp_and_foreign_files", func(t *testing.T) {
		dir := t.TempDir()
		s := NewLocalStore(dir)
		for _, id := range []string{"b", "a"} {
			if err := s.Save(ctx, testDoc(id)); err != nil {
				t.Fatal(err)
			}
		}
		for _, name := range []string{".transcript-123.tmp", "notes.txt", ".x.json"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		ids, err := s.IDs()
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("IDs() = %v, want [a b]", ids)
		}
	})

	t.Run("missing_dir_lists_nothing", func(t *testing.T) {
		s := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
		ids, err := s.IDs()
		if err != nil || ids != nil {
			t.Errorf("IDs() = %v, %v", ids, err)
		}
	})
}

func TestDocumentSegments(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStore(t.TempDir())
	if err := local.Save(ctx, testDoc("rec-1")); err != nil {
		t.Fatal(err)
	}
	store := NewDocumentSegments(local)

	segs, err := store.Segments(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if segment.Text(segs) != "good morning" {
		t.Errorf("Text = %q", segment.Text(segs))
	}
	if _, err := store.Segments(ctx, "nope"); !errors.Is(err, segment.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestObjectKey(t *testing.T) {
	if got := objectKey("", "rec-1"); got != "transcripts/rec-1.json" {
		t.Errorf("objectKey = %q", got)
	}
	if got := objectKey("prod", "rec-1"); got != "prod/transcripts/rec-1.json" {
		t.Errorf("objectKey = %q", got)
	}
}

func TestIDFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{"rec-1.json", "rec-1", true},
		{"rec-1.json.bak", "", false},
		{".transcript-99.tmp", "", false},
		{".json", "", false},
	}
	for _, tt := range tests {
		id, ok := IDFromFilename(tt.name)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("IDFromFilename(%q) = %q, %v; want %q, %v", tt.name, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
