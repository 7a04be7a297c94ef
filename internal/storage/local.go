package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snarg/transcript-sync/internal/segment"
)

// LocalStore keeps one {recording_id}.json document per recording in a
// directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Load(ctx context.Context, recordingID string) (*segment.Document, error) {
	if err := checkID(recordingID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(recordingID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, segment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.decode(recordingID, data)
}

// decode parses a document and checks it belongs to recordingID.
func (s *LocalStore) decode(recordingID string, data []byte) (*segment.Document, error) {
	doc, err := segment.DecodeDocument(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path(recordingID), err)
	}
	if doc.RecordingID != recordingID {
		return nil, fmt.Errorf("%w: %s holds recording %q", segment.ErrInvalid, s.Path(recordingID), doc.RecordingID)
	}
	return doc, nil
}

func (s *LocalStore) Save(ctx context.Context, doc *segment.Document) error {
	if err := checkID(doc.RecordingID); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		return err
	}
	return s.write(doc.RecordingID, buf.Bytes())
}

// write stores raw document bytes with a temp file + rename so watchers
// never observe a partial document.
func (s *LocalStore) write(recordingID string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(recordingID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, recordingID string) bool {
	if !ValidID(recordingID) {
		return false
	}
	_, err := os.Stat(s.Path(recordingID))
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

// Path returns the document path for a recording.
func (s *LocalStore) Path(recordingID string) string {
	return filepath.Join(s.dir, recordingID+".json")
}

// Dir returns the transcript directory.
func (s *LocalStore) Dir() string { return s.dir }

// IDs lists the recordings with a document on disk, sorted.
func (s *LocalStore) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if id, ok := IDFromFilename(e.Name()); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// IDFromFilename maps "{id}.json" to id. Temp files and other names are
// rejected.
func IDFromFilename(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, ".json")
	if !ok || !ValidID(id) {
		return "", false
	}
	return id, true
}

// raw returns the stored document bytes.
func (s *LocalStore) raw(recordingID string) ([]byte, error) {
	return os.ReadFile(s.Path(recordingID))
}
