package segment

import (
	"encoding/json"
	"fmt"
	"io"
)

// Document is the on-disk / object-store representation of one recording's
// transcript. File name is {recording_id}.json.
type Document struct {
	RecordingID string    `json:"recording_id"`
	Title       string    `json:"title,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Language    string    `json:"language,omitempty"`
	Segments    []Segment `json:"segments"`
}

// DecodeDocument parses a transcript document, normalizes segment order and
// validates the result. Missing segment IDs are filled as "{recording}-{index}".
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", ErrInvalid, err)
	}
	if doc.RecordingID == "" {
		return nil, fmt.Errorf("%w: document has no recording_id", ErrInvalid)
	}
	if doc.Segments == nil {
		doc.Segments = []Segment{}
	}
	doc.Segments = Normalize(doc.Segments)
	for i := range doc.Segments {
		if doc.Segments[i].ID == "" {
			doc.Segments[i].ID = fmt.Sprintf("%s-%d", doc.RecordingID, doc.Segments[i].WordIndex)
		}
	}
	if err := Validate(doc.Segments); err != nil {
		return nil, fmt.Errorf("recording %s: %w", doc.RecordingID, err)
	}
	if doc.DurationMs == 0 && len(doc.Segments) > 0 {
		doc.DurationMs = doc.Segments[len(doc.Segments)-1].End
	}
	return &doc, nil
}

// Encode writes the document as indented JSON.
func (d *Document) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
