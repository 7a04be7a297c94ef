package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/playback"
	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/syncengine"
	"github.com/snarg/transcript-sync/internal/virtualize"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrInvalidMode = errors.New("invalid clock mode")
	// ErrClockMode is returned when an operation needs the other clock mode,
	// e.g. Play on a session whose position is reported by the client.
	ErrClockMode = errors.New("operation not supported by session clock")
)

// ClockMode selects who owns the playback position.
type ClockMode string

const (
	ClockSimulated ClockMode = "simulated"
	ClockReported  ClockMode = "reported"
)

// ParseClockMode maps "" to the simulated clock.
func ParseClockMode(s string) (ClockMode, error) {
	switch ClockMode(s) {
	case "", ClockSimulated:
		return ClockSimulated, nil
	case ClockReported:
		return ClockReported, nil
	}
	return "", ErrInvalidMode
}

// Session binds one engine and one viewport to a playback clock.
type Session struct {
	ID          string
	RecordingID string
	Mode        ClockMode
	CreatedAt   time.Time

	engine   *syncengine.Engine
	view     *virtualize.Viewport
	player   *playback.Player
	reported *playback.ReportedClock
	publish  func(Event)
	now      func() time.Time
	log      zerolog.Logger

	lastActive atomic.Int64 // unix nanos

	renderMu   sync.Mutex
	lastRender time.Time

	// closeMu is held for reading by seeks and for writing by close, so
	// close waits out a running seek and later seeks see closed.
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// State is a point-in-time snapshot of a session.
type State struct {
	ID           string           `json:"id"`
	RecordingID  string           `json:"recording_id"`
	Clock        ClockMode        `json:"clock"`
	Running      bool             `json:"running"`
	Playing      bool             `json:"playing"`
	PositionMs   *int64           `json:"position_ms"`
	DurationMs   int64            `json:"duration_ms,omitempty"`
	Highlighted  int              `json:"highlighted"`
	SegmentCount int              `json:"segment_count"`
	Stats        syncengine.Stats `json:"stats"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActive   time.Time        `json:"last_active"`
}

func (s *Session) clock() syncengine.Clock {
	if s.player != nil {
		return s.player
	}
	return s.reported
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// LastActive is the time of the last client interaction.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// onChange runs on the engine's notification path. It must not seek.
func (s *Session) onChange(index int) {
	s.view.SetHighlight(index)
	segs := s.engine.Segments()
	if index < 0 || index >= len(segs) {
		return
	}
	seg := segs[index]
	s.publish(Event{
		Type:        EventHighlight,
		SessionID:   s.ID,
		RecordingID: s.RecordingID,
		Index:       index,
		Word:        seg.Word,
		StartMs:     seg.Start,
		EndMs:       seg.End,
	})
}

// onSeek forwards a seek on a reported clock to the client that owns the audio.
func (s *Session) onSeek(positionMs int64) {
	s.publish(Event{
		Type:        EventSeek,
		SessionID:   s.ID,
		RecordingID: s.RecordingID,
		Index:       -1,
		PositionMs:  positionMs,
	})
}

func (s *Session) Play() error {
	if s.player == nil {
		return ErrClockMode
	}
	s.touch()
	s.player.Play()
	return nil
}

func (s *Session) Pause() error {
	if s.player == nil {
		return ErrClockMode
	}
	s.touch()
	s.player.Pause()
	return nil
}

// SetRate changes the simulated playback speed.
func (s *Session) SetRate(rate float64) error {
	if s.player == nil {
		return ErrClockMode
	}
	s.touch()
	s.player.SetRate(rate)
	return nil
}

// SeekTime moves the playback position. The clock clamps negative times to 0.
// Seeks on a closed session are dropped.
func (s *Session) SeekTime(ms int64) {
	s.live(func() { s.engine.JumpToTime(ms) })
}

// SeekSegment moves the playback position to the start of a segment.
// Out-of-range indices are ignored.
func (s *Session) SeekSegment(index int) {
	s.live(func() { s.engine.JumpToSegment(index) })
}

// Click is a click-to-seek on a rendered row.
func (s *Session) Click(index int) {
	s.live(func() { s.view.Click(index) })
}

// Scroll records a user scroll. viewport <= 0 keeps the current height.
func (s *Session) Scroll(offset, viewport float64) {
	s.touch()
	if viewport > 0 {
		s.view.Resize(viewport)
	}
	s.view.Scroll(offset)
}

// Report feeds a client position report to a reported clock.
func (s *Session) Report(positionMs int64, playing bool) error {
	if s.reported == nil {
		return ErrClockMode
	}
	s.touch()
	s.reported.Report(positionMs, playing)
	return nil
}

// View advances scroll animation by the time since the previous view and
// renders the window.
func (s *Session) View() virtualize.View {
	s.touch()
	s.renderMu.Lock()
	now := s.now()
	if !s.lastRender.IsZero() {
		s.view.Tick(now.Sub(s.lastRender))
	}
	s.lastRender = now
	s.renderMu.Unlock()
	return s.view.Render()
}

func (s *Session) State() State {
	st := State{
		ID:           s.ID,
		RecordingID:  s.RecordingID,
		Clock:        s.Mode,
		Running:      s.engine.Running(),
		Highlighted:  s.engine.Highlighted(),
		SegmentCount: len(s.engine.Segments()),
		Stats:        s.engine.Stats(),
		CreatedAt:    s.CreatedAt,
		LastActive:   s.LastActive(),
	}
	clock := s.clock()
	if pos, ok := clock.PositionMs(); ok {
		st.PositionMs = &pos
	}
	st.Playing = clock.Playing()
	if s.player != nil {
		st.DurationMs = s.player.DurationMs()
	}
	return st
}

// Segment returns segment i of the current transcript.
func (s *Session) Segment(i int) (segment.Segment, bool) {
	segs := s.engine.Segments()
	if i < 0 || i >= len(segs) {
		return segment.Segment{}, false
	}
	return segs[i], true
}

// Stats returns the engine counters.
func (s *Session) Stats() syncengine.Stats {
	return s.engine.Stats()
}

func (s *Session) replace(segs []segment.Segment) {
	if s.player != nil {
		s.player.SetDurationMs(durationOf(segs))
	}
	// Viewport first: the engine's next emission re-highlights the new list.
	s.view.SetSegments(segs)
	s.engine.UpdateSegments(segs)
}

// live runs a seek unless the session is closed.
func (s *Session) live(seek func()) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}
	s.touch()
	seek()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		s.engine.Stop()
		if s.player != nil {
			s.player.Pause()
		}
		s.publish(Event{
			Type:        EventClosed,
			SessionID:   s.ID,
			RecordingID: s.RecordingID,
			Index:       -1,
		})
		s.log.Debug().Msg("session closed")
	})
}

func durationOf(segs []segment.Segment) int64 {
	var d int64
	for _, seg := range segs {
		if seg.End > d {
			d = seg.End
		}
	}
	return d
}
