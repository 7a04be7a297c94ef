// Package playback provides the clocks a sync engine follows: a simulated
// server-side player and a clock fed by position reports from a client.
package playback

import (
	"sync"
	"time"
)

// Player is a simulated audio element. Position advances with wall time
// while playing and stops at the duration.
type Player struct {
	mu       sync.Mutex
	now      func() time.Time
	duration int64 // ms, 0 = unbounded
	rate     float64
	base     int64 // position at anchor
	anchor   time.Time
	playing  bool
}

// NewPlayer returns a paused player at position 0. durationMs <= 0 means the
// position is not clamped at the end.
func NewPlayer(durationMs int64) *Player {
	return NewPlayerWithClock(durationMs, time.Now)
}

// NewPlayerWithClock is NewPlayer with an injectable time source.
func NewPlayerWithClock(durationMs int64, now func() time.Time) *Player {
	if durationMs < 0 {
		durationMs = 0
	}
	return &Player{now: now, duration: durationMs, rate: 1}
}

// PositionMs is always available for a simulated player.
func (p *Player) PositionMs() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked(p.now()), true
}

func (p *Player) positionLocked(now time.Time) int64 {
	pos := p.base
	if p.playing {
		pos += int64(float64(now.Sub(p.anchor).Milliseconds()) * p.rate)
	}
	if p.duration > 0 && pos >= p.duration {
		pos = p.duration
		if p.playing {
			p.playing = false
			p.base = pos
		}
	}
	return pos
}

// SetPositionMs seeks. The play state is unchanged.
func (p *Player) SetPositionMs(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ms < 0 {
		ms = 0
	}
	if p.duration > 0 && ms > p.duration {
		ms = p.duration
	}
	p.base = ms
	p.anchor = p.now()
}

// Playing reports whether the position is advancing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionLocked(p.now())
	return p.playing
}

// Play resumes from the current position. Playing at the end restarts from 0.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.base = p.positionLocked(now)
	if p.duration > 0 && p.base >= p.duration {
		p.base = 0
	}
	p.anchor = now
	p.playing = true
}

// Pause freezes the position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.base = p.positionLocked(now)
	p.anchor = now
	p.playing = false
}

// SetRate changes the playback speed. Non-positive rates are ignored.
func (p *Player) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.base = p.positionLocked(now)
	p.anchor = now
	p.rate = rate
}

// Rate returns the playback speed.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// DurationMs returns the clamp duration, 0 when unbounded.
func (p *Player) DurationMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// SetDurationMs updates the clamp, e.g. after the transcript is reloaded.
func (p *Player) SetDurationMs(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ms < 0 {
		ms = 0
	}
	p.duration = ms
}
