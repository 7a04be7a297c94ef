package segment

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned by a Store when the recording is unknown.
var ErrNotFound = errors.New("recording not found")

// ErrInvalid wraps every ordering or bounds violation reported by Validate.
var ErrInvalid = errors.New("invalid segment sequence")

// Segment is one word-level unit of a transcript.
// Start and End are millisecond offsets from the start of the recording.
type Segment struct {
	ID        string `json:"id"`
	Word      string `json:"word"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Speaker   string `json:"speaker,omitempty"`
	WordIndex int    `json:"word_index"`
}

// Duration returns End-Start in milliseconds.
func (s Segment) Duration() int64 { return s.End - s.Start }

// Contains reports whether t (ms) falls inside [Start, End].
func (s Segment) Contains(t int64) bool { return s.Start <= t && t <= s.End }

// Store supplies the ordered segment sequence for a recording.
// Implementations return segments sorted by WordIndex. A known recording
// without words yields an empty slice, an unknown one ErrNotFound.
type Store interface {
	Segments(ctx context.Context, recordingID string) ([]Segment, error)
}

// Validate checks the invariants the sync engine relies on:
// Start <= End per segment, WordIndex equal to position, and Start
// non-decreasing in WordIndex order. Adjacent segments may touch or overlap.
func Validate(segs []Segment) error {
	for i, s := range segs {
		if s.Start > s.End {
			return fmt.Errorf("%w: segment %d starts at %d after its end %d", ErrInvalid, i, s.Start, s.End)
		}
		if s.WordIndex != i {
			return fmt.Errorf("%w: segment at position %d has word_index %d", ErrInvalid, i, s.WordIndex)
		}
		if i > 0 && s.Start < segs[i-1].Start {
			return fmt.Errorf("%w: segment %d starts at %d before segment %d (%d)",
				ErrInvalid, i, s.Start, i-1, segs[i-1].Start)
		}
	}
	return nil
}

// Normalize returns a copy of segs ordered by WordIndex. Stores that cannot
// guarantee row order pass their results through here before Validate.
func Normalize(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	copy(out, segs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WordIndex < out[j].WordIndex
	})
	return out
}

// Reindex renumbers WordIndex to match position. Used after building a
// sequence from sources that carry no index of their own.
func Reindex(segs []Segment) {
	for i := range segs {
		segs[i].WordIndex = i
	}
}

// Text joins the words of segs with single spaces.
func Text(segs []Segment) string {
	n := 0
	for _, s := range segs {
		n += len(s.Word) + 1
	}
	buf := make([]byte, 0, n)
	for i, s := range segs {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, s.Word...)
	}
	return string(buf)
}
