package syncengine

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/segment"
)

// ChangeFunc receives the newly active segment index.
type ChangeFunc func(index int)

// Stats are cumulative engine counters, read by the metrics collector.
type Stats struct {
	Ticks        int64 `json:"ticks"`
	Changes      int64 `json:"changes"`
	SkippedTicks int64 `json:"skipped_ticks"` // clock not ready
	Fallbacks    int64 `json:"fallbacks"`     // resolved into a silence gap
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolveOnSeek makes JumpToTime resolve immediately instead of waiting
// for the next tick, so a seek while paused highlights at once. Default on.
func WithResolveOnSeek(on bool) Option {
	return func(e *Engine) { e.resolveOnSeek = on }
}

// WithPauseIdle skips resolution while the clock reports it is not playing.
// The first resolution after Start or UpdateSegments still happens.
func WithPauseIdle(on bool) Option {
	return func(e *Engine) { e.pauseIdle = on }
}

// WithLogger attaches a logger for lifecycle debug output.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine follows a Clock and reports which segment is active.
//
// The loop resolves once per scheduler tick and calls onChange only when the
// resolved index differs from the last one reported. onChange calls are
// serialized. onChange must not call Stop, UpdateSegments or
// JumpToTime/JumpToSegment on the same engine; it runs while the engine
// holds its notification lock.
type Engine struct {
	clock    Clock
	sched    Scheduler
	onChange ChangeFunc
	log      zerolog.Logger

	resolveOnSeek bool
	pauseIdle     bool

	// notifyMu serializes resolve+notify so callbacks never overlap, and
	// Stop and UpdateSegments can wait out an in-flight callback.
	notifyMu sync.Mutex

	mu      sync.Mutex
	segs    []segment.Segment
	last    int
	target  int // segment chosen by JumpToSegment, -1 once consumed
	running bool
	gen     uint64 // bumped by Start and Stop
	cancel  CancelFunc

	ticks     atomic.Int64
	changes   atomic.Int64
	skipped   atomic.Int64
	fallbacks atomic.Int64
}

// New creates a stopped engine with no segments.
func New(clock Clock, sched Scheduler, onChange ChangeFunc, opts ...Option) *Engine {
	e := &Engine{
		clock:         clock,
		sched:         sched,
		onChange:      onChange,
		log:           zerolog.Nop(),
		resolveOnSeek: true,
		last:          -1,
		target:        -1,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start begins the tick loop. No-op if already running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.gen++
	g := e.gen
	e.cancel = e.sched.RequestTick(func() { e.step(g, true) })
	e.log.Debug().Int("segments", len(e.segs)).Msg("sync engine started")
}

// Stop halts the loop and cancels the pending tick. Safe to call repeatedly
// or before Start. When Stop returns no further callback will fire until the
// next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	// Wait for a callback that was already dispatched.
	e.notifyMu.Lock()
	e.notifyMu.Unlock()

	if wasRunning {
		e.log.Debug().Msg("sync engine stopped")
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// UpdateSegments replaces the segment sequence and forgets the last reported
// index, so the next tick resolves from scratch. It waits for an in-flight
// onChange to return first, so a callback never observes a sequence other
// than the one its index was resolved against. segs must not be mutated
// afterwards.
func (e *Engine) UpdateSegments(segs []segment.Segment) {
	e.notifyMu.Lock()
	e.mu.Lock()
	e.segs = segs
	e.last = -1
	e.target = -1
	e.mu.Unlock()
	e.notifyMu.Unlock()
	e.log.Debug().Int("segments", len(segs)).Msg("segments replaced")
}

// Segments returns the current sequence.
func (e *Engine) Segments() []segment.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.segs
}

// Highlighted returns the last reported index, or -1.
func (e *Engine) Highlighted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// JumpToTime seeks the clock to ms.
func (e *Engine) JumpToTime(ms int64) {
	e.jump(ms, -1)
}

// JumpToSegment seeks to the start of segment index. Out-of-range indices
// are ignored. Segments that share index's Start and also contain it do not
// take the highlight from index, so the jump lands on the segment asked for
// even among zero-length words with equal timestamps.
func (e *Engine) JumpToSegment(index int) {
	e.mu.Lock()
	if index < 0 || index >= len(e.segs) {
		e.mu.Unlock()
		return
	}
	start := e.segs[index].Start
	e.mu.Unlock()
	e.jump(start, index)
}

func (e *Engine) jump(ms int64, target int) {
	e.mu.Lock()
	e.target = target
	e.mu.Unlock()

	e.clock.SetPositionMs(ms)
	if !e.resolveOnSeek {
		return
	}
	e.mu.Lock()
	g := e.gen
	e.mu.Unlock()
	e.step(g, false)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Ticks:        e.ticks.Load(),
		Changes:      e.changes.Load(),
		SkippedTicks: e.skipped.Load(),
		Fallbacks:    e.fallbacks.Load(),
	}
}

// step resolves the clock position once for loop generation g. Scheduled
// ticks pass reschedule=true and request the next tick; seeks do not.
func (e *Engine) step(g uint64, reschedule bool) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if !e.running || g != e.gen {
		e.mu.Unlock()
		return
	}
	segs, last := e.segs, e.last
	prefer := last
	if e.target >= 0 {
		prefer, e.target = e.target, -1
	}
	e.mu.Unlock()

	if reschedule {
		e.ticks.Add(1)
	}
	idx, ok := e.resolve(segs, last, prefer, !reschedule)

	e.mu.Lock()
	if !e.running || g != e.gen {
		e.mu.Unlock()
		return
	}
	changed := ok && idx != e.last
	if changed {
		e.last = idx
	}
	if reschedule {
		e.cancel = e.sched.RequestTick(func() { e.step(g, true) })
	}
	e.mu.Unlock()

	if changed {
		e.changes.Add(1)
		if e.onChange != nil {
			e.onChange(idx)
		}
	}
}

// resolve reads the clock and maps it to an index. seek bypasses the
// pause-idle check. prefer keeps its place against another segment with the
// same Start when it also contains the position.
func (e *Engine) resolve(segs []segment.Segment, last, prefer int, seek bool) (int, bool) {
	pos, ok := e.clock.PositionMs()
	if !ok {
		e.skipped.Add(1)
		return -1, false
	}
	if len(segs) == 0 {
		return -1, false
	}
	if e.pauseIdle && !seek && last >= 0 && !e.clock.Playing() {
		return -1, false
	}
	idx := ResolveIndex(segs, pos, last)
	if prefer >= 0 && prefer < len(segs) && prefer != idx &&
		segs[prefer].Start == segs[idx].Start && segs[prefer].Contains(pos) {
		idx = prefer
	}
	if !Contains(segs, idx, pos) {
		e.fallbacks.Add(1)
	}
	return idx, true
}
