package storage

import (
	"context"

	"github.com/snarg/transcript-sync/internal/segment"
)

// DocumentSegments serves a DocumentStore through the segment.Store contract.
type DocumentSegments struct {
	docs DocumentStore
}

func NewDocumentSegments(docs DocumentStore) *DocumentSegments {
	return &DocumentSegments{docs: docs}
}

func (d *DocumentSegments) Segments(ctx context.Context, recordingID string) ([]segment.Segment, error) {
	doc, err := d.docs.Load(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	return doc.Segments, nil
}
