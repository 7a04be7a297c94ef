package virtualize

import (
	"math"
	"sync"
	"time"

	"github.com/snarg/transcript-sync/internal/segment"
)

// Seeker is the seek path shared with the sync engine. Clicking a word goes
// through it so every clock write is an absolute seek to a segment start.
type Seeker interface {
	JumpToSegment(index int)
}

// Options configures a Viewport.
type Options struct {
	RowHeight float64 // pixels per word row
	Height    float64 // viewport height in pixels
	Overscan  int     // rows rendered beyond each edge

	// Smoothing is the fraction of the remaining distance covered per
	// 16ms frame while auto-scrolling. 1 jumps immediately.
	Smoothing float64

	// HeightFunc overrides RowHeight per segment when set.
	HeightFunc func(s segment.Segment) float64
}

// DefaultOptions match the dashboard transcript pane.
func DefaultOptions() Options {
	return Options{
		RowHeight: 28,
		Height:    560,
		Overscan:  10,
		Smoothing: 0.25,
	}
}

// RenderedRow is one mounted word.
type RenderedRow struct {
	Index       int     `json:"index"`
	Offset      float64 `json:"offset"`
	Height      float64 `json:"height"`
	ID          string  `json:"id"`
	Word        string  `json:"word"`
	Speaker     string  `json:"speaker,omitempty"`
	Start       int64   `json:"start"`
	End         int64   `json:"end"`
	Highlighted bool    `json:"highlighted"`
}

// View is the output of one render pass.
type View struct {
	Empty        bool          `json:"empty"`
	TotalHeight  float64       `json:"total_height"`
	ScrollOffset float64       `json:"scroll_offset"`
	Viewport     float64       `json:"viewport"`
	Highlighted  int           `json:"highlighted"`
	Rows         []RenderedRow `json:"rows"`
}

// Viewport is a headless virtualized transcript list. It never mutates the
// segments it is given.
type Viewport struct {
	seeker Seeker
	opts   Options

	mu        sync.Mutex
	segs      []segment.Segment
	layout    *Layout
	highlight int
	pending   int // highlighted row not mounted yet, -1 if none
	scroll    float64
	target    float64
}

// NewViewport creates an empty viewport that seeks through seeker.
func NewViewport(seeker Seeker, opts Options) *Viewport {
	def := DefaultOptions()
	if opts.RowHeight <= 0 {
		opts.RowHeight = def.RowHeight
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.Overscan < 0 {
		opts.Overscan = 0
	}
	if opts.Smoothing <= 0 || opts.Smoothing > 1 {
		opts.Smoothing = def.Smoothing
	}
	return &Viewport{
		seeker:    seeker,
		opts:      opts,
		layout:    NewLayout(0, Fixed(opts.RowHeight)),
		highlight: -1,
		pending:   -1,
	}
}

// SetSegments replaces the list, clears the highlight and clamps the scroll.
func (v *Viewport) SetSegments(segs []segment.Segment) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.segs = segs
	if v.opts.HeightFunc != nil {
		hf := v.opts.HeightFunc
		v.layout = NewLayout(len(segs), func(i int) float64 { return hf(segs[i]) })
	} else {
		v.layout = NewLayout(len(segs), Fixed(v.opts.RowHeight))
	}
	v.highlight = -1
	v.pending = -1
	v.scroll = ClampOffset(v.layout, v.scroll, v.opts.Height)
	v.target = v.scroll
}

// SetHighlight marks index as active. A mounted row is smoothly centred; a
// row outside the rendered window is brought into view on the next Render.
// Out-of-range indices (including -1) clear the highlight.
func (v *Viewport) SetHighlight(index int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if index < 0 || index >= len(v.segs) {
		v.highlight = -1
		v.pending = -1
		return
	}
	v.highlight = index
	if v.mountedLocked(index) {
		v.target = CenterOffset(v.layout, index, v.opts.Height)
		v.pending = -1
		return
	}
	v.pending = index
}

// Highlighted returns the highlighted index or -1.
func (v *Viewport) Highlighted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.highlight
}

// Scroll sets the scroll offset directly, as a user scroll does. It cancels
// any auto-scroll in progress.
func (v *Viewport) Scroll(offset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scroll = ClampOffset(v.layout, offset, v.opts.Height)
	v.target = v.scroll
}

// ScrollOffset returns the current scroll position.
func (v *Viewport) ScrollOffset() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scroll
}

// Resize changes the viewport height.
func (v *Viewport) Resize(height float64) {
	if height <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opts.Height = height
	v.scroll = ClampOffset(v.layout, v.scroll, height)
	v.target = ClampOffset(v.layout, v.target, height)
}

// Tick advances auto-scroll by dt and reports whether the offset moved.
func (v *Viewport) Tick(dt time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	diff := v.target - v.scroll
	if diff == 0 {
		return false
	}
	if math.Abs(diff) < 0.5 || v.opts.Smoothing >= 1 {
		v.scroll = v.target
		return true
	}
	frames := float64(dt) / float64(16*time.Millisecond)
	if frames <= 0 {
		return false
	}
	keep := math.Pow(1-v.opts.Smoothing, frames)
	v.scroll = v.target - diff*keep
	return true
}

// Settle finishes any auto-scroll immediately.
func (v *Viewport) Settle() {
	v.mu.Lock()
	v.scroll = v.target
	v.mu.Unlock()
}

// Render mounts the rows for the current scroll offset.
func (v *Viewport) Render() View {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pending >= 0 {
		if !v.mountedLocked(v.pending) {
			// Too far to animate: jump so the row mounts.
			v.scroll = CenterOffset(v.layout, v.pending, v.opts.Height)
		}
		v.target = CenterOffset(v.layout, v.pending, v.opts.Height)
		v.pending = -1
	}

	view := View{
		Empty:        len(v.segs) == 0,
		TotalHeight:  v.layout.TotalHeight(),
		ScrollOffset: v.scroll,
		Viewport:     v.opts.Height,
		Highlighted:  v.highlight,
		Rows:         []RenderedRow{},
	}
	for _, r := range v.layout.Window(v.scroll, v.opts.Height, v.opts.Overscan) {
		s := v.segs[r.Index]
		view.Rows = append(view.Rows, RenderedRow{
			Index:       r.Index,
			Offset:      r.Offset,
			Height:      r.Height,
			ID:          s.ID,
			Word:        s.Word,
			Speaker:     s.Speaker,
			Start:       s.Start,
			End:         s.End,
			Highlighted: r.Index == v.highlight,
		})
	}
	return view
}

// Mounted reports whether row index is in the rendered window.
func (v *Viewport) Mounted(index int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mountedLocked(index)
}

func (v *Viewport) mountedLocked(index int) bool {
	first, last := v.layout.visibleRange(v.scroll, v.opts.Height)
	if first < 0 {
		return false
	}
	return index >= max(0, first-v.opts.Overscan) && index <= last+v.opts.Overscan
}

// Click seeks to the clicked word. Works whether playback is paused or
// playing; out-of-range indices are ignored.
func (v *Viewport) Click(index int) {
	v.mu.Lock()
	n := len(v.segs)
	v.mu.Unlock()
	if index < 0 || index >= n || v.seeker == nil {
		return
	}
	// The seek may call back into SetHighlight, so the lock is not held here.
	v.seeker.JumpToSegment(index)
}
