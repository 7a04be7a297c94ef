// Package virtualize computes which rows of a long list are rendered for a
// given scroll position, and keeps a highlighted row in view.
package virtualize

import (
	"math"
	"sort"
)

// RowHeightFunc returns the height of row i in pixels.
type RowHeightFunc func(i int) float64

// Fixed returns a RowHeightFunc with constant height h.
func Fixed(h float64) RowHeightFunc {
	return func(int) float64 { return h }
}

// Row is one rendered row and its position in the scroll content.
type Row struct {
	Index  int     `json:"index"`
	Offset float64 `json:"offset"`
	Height float64 `json:"height"`
}

// Layout holds prefix-summed row offsets for a list.
type Layout struct {
	offsets []float64 // len count+1, offsets[count] is the total height
}

// NewLayout measures count rows. Negative heights count as zero.
func NewLayout(count int, rowHeight RowHeightFunc) *Layout {
	if count < 0 {
		count = 0
	}
	offsets := make([]float64, count+1)
	for i := 0; i < count; i++ {
		h := rowHeight(i)
		if h < 0 || math.IsNaN(h) {
			h = 0
		}
		offsets[i+1] = offsets[i] + h
	}
	return &Layout{offsets: offsets}
}

// Count returns the number of rows.
func (l *Layout) Count() int { return len(l.offsets) - 1 }

// TotalHeight is the height of the full scroll content.
func (l *Layout) TotalHeight() float64 { return l.offsets[len(l.offsets)-1] }

// Offset returns the top of row i.
func (l *Layout) Offset(i int) float64 { return l.offsets[i] }

// Height returns the height of row i.
func (l *Layout) Height(i int) float64 { return l.offsets[i+1] - l.offsets[i] }

// IndexAt returns the row covering y, clamped to [0, Count-1].
// Returns -1 for an empty layout.
func (l *Layout) IndexAt(y float64) int {
	n := l.Count()
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return l.offsets[i+1] > y })
	if i >= n {
		return n - 1
	}
	return i
}

// Window returns the rows intersecting [offset, offset+viewport) plus
// overscan rows on either side, clipped to the list bounds. Indices are
// strictly ascending and contiguous.
func (l *Layout) Window(offset, viewport float64, overscan int) []Row {
	first, last := l.visibleRange(offset, viewport)
	if first < 0 {
		return nil
	}
	if overscan < 0 {
		overscan = 0
	}
	start := max(0, first-overscan)
	end := min(l.Count()-1, last+overscan)

	rows := make([]Row, 0, end-start+1)
	for i := start; i <= end; i++ {
		rows = append(rows, Row{Index: i, Offset: l.offsets[i], Height: l.Height(i)})
	}
	return rows
}

// visibleRange returns the first and last row intersecting the viewport, or
// (-1, -1) when nothing is visible.
func (l *Layout) visibleRange(offset, viewport float64) (int, int) {
	n := l.Count()
	if n == 0 || viewport <= 0 {
		return -1, -1
	}
	bottom := offset + viewport
	first := sort.Search(n, func(i int) bool { return l.offsets[i+1] > offset })
	last := sort.Search(n, func(i int) bool { return l.offsets[i] >= bottom }) - 1
	if first >= n || last < 0 || first > last {
		return -1, -1
	}
	return first, last
}

// Window is the one-shot form of Layout.Window.
func Window(count int, rowHeight RowHeightFunc, offset, viewport float64, overscan int) []Row {
	return NewLayout(count, rowHeight).Window(offset, viewport, overscan)
}

// FixedWindow computes the same window as Window for constant row heights
// without measuring every row.
func FixedWindow(count int, rowHeight, offset, viewport float64, overscan int) []Row {
	if count <= 0 || viewport <= 0 || rowHeight <= 0 {
		return nil
	}
	bottom := offset + viewport
	first := int(math.Floor(offset / rowHeight))
	if first < 0 {
		first = 0
	}
	last := int(math.Ceil(bottom/rowHeight)) - 1
	if last >= count {
		last = count - 1
	}
	if first >= count || last < 0 || first > last {
		return nil
	}
	if overscan < 0 {
		overscan = 0
	}
	start := max(0, first-overscan)
	end := min(count-1, last+overscan)

	rows := make([]Row, 0, end-start+1)
	for i := start; i <= end; i++ {
		rows = append(rows, Row{Index: i, Offset: float64(i) * rowHeight, Height: rowHeight})
	}
	return rows
}

// CenterOffset returns the scroll offset that centres row i in a viewport of
// the given height, clamped to the scrollable range.
func CenterOffset(l *Layout, i int, viewport float64) float64 {
	if i < 0 || i >= l.Count() {
		return 0
	}
	target := l.Offset(i) + l.Height(i)/2 - viewport/2
	return ClampOffset(l, target, viewport)
}

// ClampOffset limits offset to [0, TotalHeight-viewport].
func ClampOffset(l *Layout, offset, viewport float64) float64 {
	maxOffset := l.TotalHeight() - viewport
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}
