package syncengine

import (
	"sync"
	"time"
)

// DefaultFrameInterval approximates one display frame at 60 Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// Clock is the external playback position the engine follows. Both the
// engine and the viewport write to it only through SetPositionMs, which is
// an absolute assignment.
type Clock interface {
	// PositionMs returns the current playback position. ok is false while
	// the underlying player is not ready; the engine skips that tick.
	PositionMs() (ms int64, ok bool)
	SetPositionMs(ms int64)
	Playing() bool
}

// CancelFunc cancels a pending tick. Calling it after the tick ran, or more
// than once, is a no-op.
type CancelFunc func()

// Scheduler runs fn once, at the next frame. The engine requests a new tick
// at the end of every tick, so the loop runs as fast as the scheduler paces
// it and never queues up work behind a slow tick.
type Scheduler interface {
	RequestTick(fn func()) CancelFunc
}

// FrameScheduler paces ticks with a fixed frame interval.
type FrameScheduler struct {
	Interval time.Duration
}

// NewFrameScheduler returns a scheduler ticking every interval (DefaultFrameInterval if <= 0).
func NewFrameScheduler(interval time.Duration) *FrameScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &FrameScheduler{Interval: interval}
}

func (s *FrameScheduler) RequestTick(fn func()) CancelFunc {
	t := time.AfterFunc(s.Interval, fn)
	return func() { t.Stop() }
}

// ManualScheduler holds at most one pending tick until Step is called.
// Used by tests and by callers that drive frames themselves.
type ManualScheduler struct {
	mu      sync.Mutex
	pending func()
	seq     uint64
	total   int
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) RequestTick(fn func()) CancelFunc {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.pending = fn
	s.total++
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.seq == id {
			s.pending = nil
		}
		s.mu.Unlock()
	}
}

// Step runs the pending tick, if any, on the calling goroutine.
// It reports whether a tick ran.
func (s *ManualScheduler) Step() bool {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a tick is waiting.
func (s *ManualScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Requests returns how many ticks have been requested in total.
func (s *ManualScheduler) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
