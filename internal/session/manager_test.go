package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) highlights() []int {
	var out []int
	for _, e := range r.take() {
		if e.Type == EventHighlight {
			out = append(out, e.Index)
		}
	}
	return out
}

type fixture struct {
	mgr    *Manager
	store  *segment.MemoryStore
	events *recorder
	now    time.Time
	scheds map[string]*syncengine.ManualScheduler
	last   *syncengine.ManualScheduler
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) create(t *testing.T, rec string, mode ClockMode) (*Session, *syncengine.ManualScheduler) {
	t.Helper()
	s, err := f.mgr.Create(context.Background(), rec, mode)
	require.NoError(t, err)
	f.scheds[s.ID] = f.last
	return s, f.last
}

func testWords(n int) []segment.Segment {
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

func newFixture(idle time.Duration) *fixture {
	f := &fixture{
		store:  segment.NewMemoryStore(),
		events: &recorder{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		scheds: map[string]*syncengine.ManualScheduler{},
	}
	f.store.Put("rec-1", testWords(100))
	f.store.Put("empty", nil)
	f.mgr = NewManager(f.store, Options{
		IdleTimeout: idle,
		Publishers:  []Publisher{f.events},
		Now:         f.clock,
		NewScheduler: func() syncengine.Scheduler {
			f.last = syncengine.NewManualScheduler()
			return f.last
		},
	})
	return f
}

func TestCreateErrors(t *testing.T) {
	f := newFixture(0)
	_, err := f.mgr.Create(context.Background(), "missing", ClockSimulated)
	assert.True(t, errors.Is(err, segment.ErrNotFound), "err = %v", err)

	_, err = f.mgr.Create(context.Background(), "rec-1", ClockMode("vinyl"))
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, 0, f.mgr.Count())
}

func TestParseClockMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockMode
		wantErr bool
	}{
		{"", ClockSimulated, false},
		{"simulated", ClockSimulated, false},
		{"reported", ClockReported, false},
		{"REPORTED", "", true},
	}
	for _, tt := range tests {
		got, err := ParseClockMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClockMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseClockMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimulatedSession(t *testing.T) {
	f := newFixture(0)
	s, sched := f.create(t, "rec-1", ClockSimulated)

	require.True(t, sched.Step())
	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, Event{
		Type: EventHighlight, SessionID: s.ID, RecordingID: "rec-1",
		Index: 0, Word: "word0", StartMs: 0, EndMs: 250,
	}, events[0])

	// Paused: nothing changes however long we wait.
	f.advance(5 * time.Second)
	sched.Step()
	assert.Empty(t, f.events.take())

	require.NoError(t, s.Play())
	f.advance(650 * time.Millisecond)
	sched.Step()
	assert.Equal(t, []int{2}, f.events.highlights())

	f.advance(10 * time.Millisecond)
	sched.Step()
	assert.Empty(t, f.events.take(), "same segment, no event")

	s.SeekSegment(40)
	assert.Equal(t, []int{40}, f.events.highlights(), "seek resolves immediately")
	st := s.State()
	require.NotNil(t, st.PositionMs)
	assert.Equal(t, int64(12000), *st.PositionMs)
	assert.True(t, st.Playing)
	assert.Equal(t, 40, st.Highlighted)
	assert.Equal(t, 100, st.SegmentCount)

	s.SeekSegment(500)
	assert.Empty(t, f.events.take(), "out-of-range seek is ignored")

	s.Click(7)
	assert.Equal(t, []int{7}, f.events.highlights())
	view := s.View()
	assert.Equal(t, 7, view.Highlighted)

	require.NoError(t, s.Pause())
	assert.ErrorIs(t, s.Report(10, true), ErrClockMode)
}

func TestReportedSession(t *testing.T) {
	f := newFixture(0)
	s, sched := f.create(t, "rec-1", ClockReported)

	sched.Step()
	assert.Empty(t, f.events.take(), "no highlight before the first report")
	assert.Nil(t, s.State().PositionMs)
	assert.ErrorIs(t, s.Play(), ErrClockMode)

	require.NoError(t, s.Report(650, false))
	sched.Step()
	assert.Equal(t, []int{2}, f.events.highlights())

	require.NoError(t, s.Report(900, true))
	f.advance(320 * time.Millisecond)
	sched.Step()
	assert.Equal(t, []int{4}, f.events.highlights(), "extrapolated between reports")

	s.SeekTime(3000)
	events := f.events.take()
	require.Len(t, events, 2)
	assert.Equal(t, EventSeek, events[0].Type)
	assert.Equal(t, int64(3000), events[0].PositionMs)
	assert.Equal(t, EventHighlight, events[1].Type)
	assert.Equal(t, 10, events[1].Index)
}

func TestReload(t *testing.T) {
	f := newFixture(0)
	a, schedA := f.create(t, "rec-1", ClockSimulated)
	_, schedB := f.create(t, "rec-1", ClockSimulated)
	f.store.Put("other", testWords(3))
	c, schedC := f.create(t, "other", ClockSimulated)
	for _, s := range []*syncengine.ManualScheduler{schedA, schedB, schedC} {
		s.Step()
	}
	f.events.take()

	a.SeekTime(600)
	f.events.take()

	replacement := testWords(10)
	for i := range replacement {
		replacement[i].Word = "new"
		replacement[i].Start *= 2
		replacement[i].End = replacement[i].Start + 500
	}
	n := f.mgr.Reload("rec-1", replacement)
	assert.Equal(t, 2, n)
	assert.Equal(t, -1, a.State().Highlighted)
	assert.Equal(t, 10, a.State().SegmentCount)
	assert.Equal(t, 3, c.State().SegmentCount, "other recording untouched")

	schedA.Step()
	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Index)
	assert.Equal(t, "new", events[0].Word)
	assert.Equal(t, int64(600), events[0].StartMs)

	assert.Equal(t, 0, f.mgr.Reload("nobody", replacement))
}

func TestEmptyRecording(t *testing.T) {
	f := newFixture(0)
	s, sched := f.create(t, "empty", ClockSimulated)
	require.NoError(t, s.Play())
	f.advance(time.Second)
	sched.Step()
	s.SeekTime(500)
	s.Click(0)
	assert.Empty(t, f.events.take())
	view := s.View()
	assert.True(t, view.Empty)
	assert.Equal(t, -1, s.State().Highlighted)
}

func TestCloseStopsEvents(t *testing.T) {
	f := newFixture(0)
	s, sched := f.create(t, "rec-1", ClockSimulated)
	sched.Step()
	f.events.take()

	require.NoError(t, f.mgr.Close(s.ID))
	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, EventClosed, events[0].Type)

	assert.False(t, sched.Pending())
	s.SeekSegment(20)
	assert.Empty(t, f.events.take())

	_, err := f.mgr.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.mgr.Close(s.ID), ErrNotFound)

	totals := f.mgr.Totals()
	assert.Equal(t, int64(1), totals.Created)
	assert.Equal(t, int64(1), totals.Closed)
	assert.Equal(t, 0, totals.Active)
}

func TestClosedReportedSessionIgnoresSeeks(t *testing.T) {
	f := newFixture(0)
	s, sched := f.create(t, "rec-1", ClockReported)
	require.NoError(t, s.Report(650, true))
	sched.Step()
	f.events.take()

	require.NoError(t, f.mgr.Close(s.ID))
	s.SeekTime(3000)
	s.SeekSegment(12)
	s.Click(7)

	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, EventClosed, events[0].Type)
}

func TestNoSeekEventAfterClose(t *testing.T) {
	f := newFixture(0)
	s, _ := f.create(t, "rec-1", ClockReported)
	f.events.take()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 200; i++ {
				s.SeekTime(int64(g*1000 + i))
			}
		}(g)
	}
	close(start)
	require.NoError(t, f.mgr.Close(s.ID))
	wg.Wait()

	events := f.events.take()
	require.NotEmpty(t, events)
	assert.Equal(t, EventClosed, events[len(events)-1].Type, "closed must be the final event")
}

func TestListAndCloseAll(t *testing.T) {
	f := newFixture(0)
	first, _ := f.create(t, "rec-1", ClockSimulated)
	f.advance(time.Second)
	second, _ := f.create(t, "rec-1", ClockReported)

	list := f.mgr.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, ClockReported, list[1].Clock)

	f.mgr.CloseAll()
	assert.Equal(t, 0, f.mgr.Count())
	assert.Empty(t, f.mgr.List())
}

func TestReapIdle(t *testing.T) {
	f := newFixture(time.Minute)
	stale, _ := f.create(t, "rec-1", ClockSimulated)
	fresh, _ := f.create(t, "rec-1", ClockSimulated)

	f.advance(45 * time.Second)
	fresh.Scroll(100, 0)
	f.advance(30 * time.Second)

	assert.Equal(t, 1, f.mgr.ReapIdle())
	_, err := f.mgr.Get(stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mgr.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestManagerReport(t *testing.T) {
	f := newFixture(0)
	sim, _ := f.create(t, "rec-1", ClockSimulated)
	rep, sched := f.create(t, "rec-1", ClockReported)

	assert.ErrorIs(t, f.mgr.Report("nope", 0, false), ErrNotFound)
	assert.ErrorIs(t, f.mgr.Report(sim.ID, 100, true), ErrClockMode)

	require.NoError(t, f.mgr.Report(rep.ID, 1250, false))
	sched.Step()
	assert.Equal(t, 4, rep.State().Highlighted)
}
