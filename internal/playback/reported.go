package playback

import (
	"sync"
	"time"
)

// SeekSink forwards seeks to the client that owns the real audio element.
type SeekSink func(positionMs int64)

// ReportedClock follows position reports sent by a listening client. Between
// reports it extrapolates from the last one while the client says it is
// playing. Until the first report or seek it reports itself unavailable.
type ReportedClock struct {
	mu       sync.Mutex
	now      func() time.Time
	known    bool
	pos      int64
	at       time.Time
	playing  bool
	maxDrift time.Duration
	sink     SeekSink
}

// NewReportedClock returns a clock that extrapolates at most maxDrift past
// the last report. maxDrift <= 0 disables the cap.
func NewReportedClock(maxDrift time.Duration) *ReportedClock {
	return NewReportedClockWithClock(maxDrift, time.Now)
}

// NewReportedClockWithClock is NewReportedClock with an injectable time source.
func NewReportedClockWithClock(maxDrift time.Duration, now func() time.Time) *ReportedClock {
	return &ReportedClock{now: now, maxDrift: maxDrift}
}

// OnSeek registers where seeks are forwarded.
func (c *ReportedClock) OnSeek(sink SeekSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Report records the client's position.
func (c *ReportedClock) Report(positionMs int64, playing bool) {
	if positionMs < 0 {
		positionMs = 0
	}
	c.mu.Lock()
	c.known = true
	c.pos = positionMs
	c.at = c.now()
	c.playing = playing
	c.mu.Unlock()
}

func (c *ReportedClock) PositionMs() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known {
		return 0, false
	}
	if !c.playing {
		return c.pos, true
	}
	elapsed := c.now().Sub(c.at)
	if c.maxDrift > 0 && elapsed > c.maxDrift {
		elapsed = c.maxDrift
	}
	return c.pos + elapsed.Milliseconds(), true
}

// SetPositionMs records the seek locally and forwards it to the client.
func (c *ReportedClock) SetPositionMs(ms int64) {
	if ms < 0 {
		ms = 0
	}
	c.mu.Lock()
	c.known = true
	c.pos = ms
	c.at = c.now()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(ms)
	}
}

func (c *ReportedClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// LastReport returns when the clock was last updated, zero if never.
func (c *ReportedClock) LastReport() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}
