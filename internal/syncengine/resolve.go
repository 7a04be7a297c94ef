package syncengine

import (
	"sort"

	"github.com/snarg/transcript-sync/internal/segment"
)

// HintWindow is how many segments past the hint ResolveIndex checks before
// falling back to a full binary search.
const HintWindow = 8

// ResolveIndex maps a playback time (ms) to a segment index.
//
// The slot for t is the last segment whose Start <= t. If that segment
// contains t it is the answer. If it does not, an earlier segment that
// still covers t wins over the gap: with overlapping segments, t inside a
// long segment that a shorter one starts and ends within resolves to the
// long one. Only the HintWindow segments before the slot are searched for
// such a cover. When nothing covers t (a silence gap) the slot is
// returned. Times before the first segment (including negative times)
// resolve to 0. An empty sequence resolves to -1.
//
// For non-overlapping sequences the result is non-decreasing in t.
// Overlaps can move it backwards as t leaves the inner segment.
//
// hint is the previously resolved index, or -1. While playback advances
// normally the slot is the hint or a few segments after it, so the slot
// test below is O(1) in the common case; anything else is a binary search.
// Both paths return the same index.
func ResolveIndex(segs []segment.Segment, t int64, hint int) int {
	n := len(segs)
	if n == 0 {
		return -1
	}
	if t < segs[0].Start {
		return 0
	}
	return cover(segs, slot(segs, t, hint), t)
}

func slot(segs []segment.Segment, t int64, hint int) int {
	n := len(segs)
	if hint >= 0 && hint < n {
		end := hint + HintWindow
		if end > n {
			end = n
		}
		for i := hint; i < end; i++ {
			if segs[i].Start > t {
				break
			}
			if i == n-1 || t < segs[i+1].Start {
				return i
			}
		}
	}

	// First index with Start > t, minus one.
	return sort.Search(n, func(i int) bool { return segs[i].Start > t }) - 1
}

// cover returns i if segs[i] contains t, else the nearest earlier segment
// within HintWindow whose End reaches t, else i. Every segment before i
// already has Start <= t.
func cover(segs []segment.Segment, i int, t int64) int {
	if segs[i].Contains(t) {
		return i
	}
	for j := i - 1; j >= 0 && j >= i-HintWindow; j-- {
		if segs[j].End >= t {
			return j
		}
	}
	return i
}

// Contains reports whether segs[i] contains t exactly, as opposed to i being
// a gap fallback. Out-of-range indices report false.
func Contains(segs []segment.Segment, i int, t int64) bool {
	if i < 0 || i >= len(segs) {
		return false
	}
	return segs[i].Contains(t)
}
