package virtualize

import (
	"fmt"
	"testing"
	"time"

	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSeeker struct {
	jumps []int
	after func(int)
}

func (s *fakeSeeker) JumpToSegment(i int) {
	s.jumps = append(s.jumps, i)
	if s.after != nil {
		s.after(i)
	}
}

func words(n int) []segment.Segment {
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{
			ID:        fmt.Sprintf("w%d", i),
			Word:      fmt.Sprintf("word%d", i),
			Start:     int64(i * 300),
			End:       int64(i*300 + 250),
			WordIndex: i,
		}
	}
	return segs
}

func newTestViewport(n int) (*Viewport, *fakeSeeker) {
	seeker := &fakeSeeker{}
	v := NewViewport(seeker, Options{RowHeight: 20, Height: 400, Overscan: 5, Smoothing: 0.5})
	v.SetSegments(words(n))
	return v, seeker
}

func renderedIndices(view View) []int {
	out := make([]int, len(view.Rows))
	for i, r := range view.Rows {
		out[i] = r.Index
	}
	return out
}

func TestViewportEmpty(t *testing.T) {
	v := NewViewport(nil, Options{})
	view := v.Render()
	assert.True(t, view.Empty)
	assert.Empty(t, view.Rows)
	assert.Equal(t, -1, view.Highlighted)

	v.SetHighlight(3)
	v.Click(0)
	assert.Equal(t, -1, v.Render().Highlighted)
}

func TestViewportRenderWindow(t *testing.T) {
	v, _ := newTestViewport(1000)
	view := v.Render()
	assert.False(t, view.Empty)
	assert.Equal(t, 20000.0, view.TotalHeight)
	require.Len(t, view.Rows, 25) // 20 visible + 5 overscan below
	assert.Equal(t, "word0", view.Rows[0].Word)

	v.Scroll(200 * 20)
	view = v.Render()
	assert.Equal(t, 195, view.Rows[0].Index)
	assert.Equal(t, 224, view.Rows[len(view.Rows)-1].Index)
	seen := map[int]bool{}
	for _, r := range view.Rows {
		require.False(t, seen[r.Index], "row %d rendered twice", r.Index)
		seen[r.Index] = true
	}
}

func TestViewportHighlightMountedRowScrollsSmoothly(t *testing.T) {
	v, _ := newTestViewport(1000)
	v.SetHighlight(15)

	view := v.Render()
	assert.Equal(t, 15, view.Highlighted)
	assert.Equal(t, 0.0, view.ScrollOffset, "scroll animates, it does not jump")

	for i := 0; i < 100 && v.Tick(16*time.Millisecond); i++ {
	}
	want := 15*20.0 + 10 - 200
	assert.InDelta(t, want, v.ScrollOffset(), 0.001)

	view = v.Render()
	var highlighted []int
	for _, r := range view.Rows {
		if r.Highlighted {
			highlighted = append(highlighted, r.Index)
		}
	}
	assert.Equal(t, []int{15}, highlighted)
}

func TestViewportHighlightFarRowMountsOnRender(t *testing.T) {
	v, _ := newTestViewport(10000)
	v.SetHighlight(8000)
	assert.False(t, v.Mounted(8000))

	view := v.Render()
	assert.Contains(t, renderedIndices(view), 8000)
	assert.InDelta(t, 8000*20.0+10-200, view.ScrollOffset, 0.001)
}

func TestViewportHighlightAlwaysRenderedAfterRender(t *testing.T) {
	v, _ := newTestViewport(5000)
	for _, idx := range []int{0, 3, 40, 39, 4999, 2500, 2501, 10} {
		v.SetHighlight(idx)
		view := v.Render()
		require.Contains(t, renderedIndices(view), idx)
		v.Settle()
	}
}

func TestViewportOutOfRangeHighlight(t *testing.T) {
	v, _ := newTestViewport(10)
	v.SetHighlight(4)
	v.SetHighlight(-1)
	view := v.Render()
	assert.Equal(t, -1, view.Highlighted)
	for _, r := range view.Rows {
		assert.False(t, r.Highlighted)
	}
	v.SetHighlight(10)
	assert.Equal(t, -1, v.Highlighted())
}

func TestViewportSetSegmentsResets(t *testing.T) {
	v, _ := newTestViewport(1000)
	v.Scroll(15000)
	v.SetHighlight(760)
	v.SetSegments(words(10))
	assert.Equal(t, -1, v.Highlighted())
	assert.Equal(t, 0.0, v.ScrollOffset(), "clamped to new content")
	assert.Len(t, v.Render().Rows, 10)
}

func TestViewportClick(t *testing.T) {
	v, seeker := newTestViewport(100)
	// The seek path reports back synchronously, as the engine does on seek.
	seeker.after = v.SetHighlight

	v.Click(42)
	v.Click(-1)
	v.Click(100)
	assert.Equal(t, []int{42}, seeker.jumps)
	assert.Equal(t, 42, v.Highlighted())
	assert.Contains(t, renderedIndices(v.Render()), 42)
}

func TestViewportUserScrollCancelsAutoScroll(t *testing.T) {
	v, _ := newTestViewport(1000)
	v.SetHighlight(15)
	v.Render()
	v.Scroll(0)
	assert.False(t, v.Tick(16*time.Millisecond))
	assert.Equal(t, 0.0, v.ScrollOffset())
}

func TestViewportVariableHeights(t *testing.T) {
	seeker := &fakeSeeker{}
	v := NewViewport(seeker, Options{
		Height:   70,
		Overscan: 0,
		HeightFunc: func(s segment.Segment) float64 {
			return float64(10 + len(s.Word))
		},
	})
	v.SetSegments([]segment.Segment{
		{Word: "a"}, {Word: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", WordIndex: 1}, {Word: "cc", WordIndex: 2},
		{Word: "d", WordIndex: 3}, {Word: "e", WordIndex: 4}, {Word: "f", WordIndex: 5},
	})
	view := v.Render()
	assert.Equal(t, 11.0+40+12+11+11+11, view.TotalHeight)
	assert.Equal(t, []int{0, 1, 2, 3}, renderedIndices(view))
}

func TestViewportResize(t *testing.T) {
	v, _ := newTestViewport(30)
	v.Scroll(10000)
	assert.Equal(t, 200.0, v.ScrollOffset())
	v.Resize(600)
	assert.Equal(t, 0.0, v.ScrollOffset())
	v.Resize(0)
	assert.Len(t, v.Render().Rows, 30)
}
