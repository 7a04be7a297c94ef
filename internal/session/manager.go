// Package session hosts playback sessions. Each session runs a sync engine
// and a virtualized viewport over one recording's transcript, driven by a
// simulated player or by positions reported from the listening client.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/playback"
	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/syncengine"
	"github.com/snarg/transcript-sync/internal/virtualize"
)

type Options struct {
	FrameInterval time.Duration
	Viewport      virtualize.Options
	IdleTimeout   time.Duration // 0 disables reaping
	MaxDrift      time.Duration // reported clock extrapolation cap
	PauseIdle     bool
	Publishers    []Publisher
	Log           zerolog.Logger

	// NewScheduler overrides the frame scheduler, for tests.
	NewScheduler func() syncengine.Scheduler
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Manager owns the live sessions.
type Manager struct {
	store segment.Store
	opts  Options
	log   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	pubMu sync.RWMutex
	pubs  fanout

	created atomic.Int64
	closed  atomic.Int64

	// Engine stats of closed sessions, so Totals never goes backwards.
	retiredMu sync.Mutex
	retired   syncengine.Stats
}

func NewManager(store segment.Store, opts Options) *Manager {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = syncengine.DefaultFrameInterval
	}
	if opts.Viewport.RowHeight <= 0 && opts.Viewport.Height <= 0 && opts.Viewport.Overscan == 0 {
		hf := opts.Viewport.HeightFunc
		opts.Viewport = virtualize.DefaultOptions()
		opts.Viewport.HeightFunc = hf
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewScheduler == nil {
		interval := opts.FrameInterval
		opts.NewScheduler = func() syncengine.Scheduler {
			return syncengine.NewFrameScheduler(interval)
		}
	}
	return &Manager{
		store:    store,
		opts:     opts,
		log:      opts.Log,
		sessions: make(map[string]*Session),
		pubs:     fanout(opts.Publishers),
	}
}

// AddPublisher registers another event sink.
func (m *Manager) AddPublisher(p Publisher) {
	m.pubMu.Lock()
	m.pubs = append(m.pubs, p)
	m.pubMu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.pubMu.RLock()
	pubs := m.pubs
	m.pubMu.RUnlock()
	pubs.Publish(e)
}

// Create loads the recording's segments and starts a session on them.
func (m *Manager) Create(ctx context.Context, recordingID string, mode ClockMode) (*Session, error) {
	if mode != ClockSimulated && mode != ClockReported {
		return nil, ErrInvalidMode
	}
	segs, err := m.store.Segments(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("load segments for %s: %w", recordingID, err)
	}

	now := m.opts.Now()
	s := &Session{
		ID:          uuid.NewString(),
		RecordingID: recordingID,
		Mode:        mode,
		CreatedAt:   now,
		publish:     m.publish,
		now:         m.opts.Now,
	}
	s.log = m.log.With().Str("session_id", s.ID).Str("recording_id", recordingID).Logger()
	s.lastActive.Store(now.UnixNano())

	if mode == ClockSimulated {
		s.player = playback.NewPlayerWithClock(durationOf(segs), m.opts.Now)
	} else {
		s.reported = playback.NewReportedClockWithClock(m.opts.MaxDrift, m.opts.Now)
		s.reported.OnSeek(s.onSeek)
	}

	s.engine = syncengine.New(s.clock(), m.opts.NewScheduler(), s.onChange,
		syncengine.WithPauseIdle(m.opts.PauseIdle),
		syncengine.WithLogger(s.log),
	)
	s.view = virtualize.NewViewport(s.engine, m.opts.Viewport)
	s.replace(segs)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	s.engine.Start()
	m.created.Add(1)
	s.log.Info().Str("clock", string(mode)).Int("segments", len(segs)).Msg("session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Report routes a client position report to session id.
func (m *Manager) Report(id string, positionMs int64, playing bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Report(positionMs, playing)
}

// List returns session snapshots, oldest first.
func (m *Manager) List() []State {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	states := make([]State, len(list))
	for i, s := range list {
		states[i] = s.State()
	}
	return states
}

// Close stops a session. No highlight events are published for it afterwards.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.retire(s)
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		m.retire(s)
	}
	if len(all) > 0 {
		m.log.Info().Int("count", len(all)).Msg("closed all sessions")
	}
}

// Reload replaces the segments of every session playing recordingID and
// returns how many sessions were updated.
func (m *Manager) Reload(recordingID string, segs []segment.Segment) int {
	m.mu.RLock()
	var targets []*Session
	for _, s := range m.sessions {
		if s.RecordingID == recordingID {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.replace(segs)
	}
	if len(targets) > 0 {
		m.log.Info().Str("recording_id", recordingID).Int("sessions", len(targets)).
			Int("segments", len(segs)).Msg("segments reloaded")
	}
	return len(targets)
}

func (m *Manager) retire(s *Session) {
	s.close()
	st := s.Stats()
	m.retiredMu.Lock()
	addStats(&m.retired, st)
	m.retiredMu.Unlock()
	m.closed.Add(1)
}

func addStats(dst *syncengine.Stats, st syncengine.Stats) {
	dst.Ticks += st.Ticks
	dst.Changes += st.Changes
	dst.SkippedTicks += st.SkippedTicks
	dst.Fallbacks += st.Fallbacks
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Totals are lifetime counters. Engine stats cover closed and live sessions.
type Totals struct {
	Created int64
	Closed  int64
	Active  int
	Engine  syncengine.Stats
}

func (m *Manager) Totals() Totals {
	m.mu.RLock()
	t := Totals{Active: len(m.sessions)}
	for _, s := range m.sessions {
		addStats(&t.Engine, s.Stats())
	}
	m.mu.RUnlock()
	m.retiredMu.Lock()
	addStats(&t.Engine, m.retired)
	m.retiredMu.Unlock()
	t.Created = m.created.Load()
	t.Closed = m.closed.Load()
	return t
}

// ReapIdle closes sessions idle longer than the idle timeout and returns
// how many were closed.
func (m *Manager) ReapIdle() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.retire(s)
		s.log.Info().Msg("idle session reaped")
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	defer m.CloseAll()
	if m.opts.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}
