// Package clock keeps media time for the player and decides when to admit
// more data into the pipeline.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source identifies what drives a Clock.
type Source int32

const (
	// SourceAudio advances the clock by rendered audio.
	SourceAudio Source = iota
	// SourceWall advances the clock with elapsed wall time, for streams
	// without audio.
	SourceWall
)

func (s Source) String() string {
	switch s {
	case SourceAudio:
		return "audio"
	case SourceWall:
		return "wall"
	default:
		return "unknown"
	}
}

// Clock is the media-time reference. Reads are lock-free; the audio render
// callback advances it without contending with readers.
type Clock struct {
	media  atomic.Int64 // nanoseconds
	source atomic.Int32

	mu        sync.Mutex
	now       func() time.Time
	running   bool
	wallStart time.Time
	wallBase  time.Duration
}

// New creates a clock at zero driven by audio. now defaults to time.Now.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Source returns the current time source.
func (c *Clock) Source() Source { return Source(c.source.Load()) }

// SetSource switches the time source, carrying the current time over.
func (c *Clock) SetSource(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if Source(c.source.Load()) == s {
		return
	}
	t := c.nowLocked()
	c.source.Store(int32(s))
	c.media.Store(int64(t))
	c.wallBase = t
	c.wallStart = c.now()
}

// Now returns the current media time.
func (c *Clock) Now() time.Duration {
	if c.Source() == SourceAudio {
		return time.Duration(c.media.Load())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() time.Duration {
	if Source(c.source.Load()) == SourceWall && c.running {
		return c.wallBase + c.now().Sub(c.wallStart)
	}
	return time.Duration(c.media.Load())
}

// Advance moves the clock forward by d. It is a no-op for the wall source.
func (c *Clock) Advance(d time.Duration) {
	if d <= 0 || c.Source() != SourceAudio {
		return
	}
	c.media.Add(int64(d))
}

// AdvanceBytes advances by the playback duration of n bytes of PCM at
// bytesPerSecond.
func (c *Clock) AdvanceBytes(n, bytesPerSecond int) {
	if n <= 0 || bytesPerSecond <= 0 {
		return
	}
	c.Advance(time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond)))
}

// Set jumps the clock to t, as after a seek.
func (c *Clock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media.Store(int64(t))
	c.wallBase = t
	c.wallStart = c.now()
}

// Start lets the wall source run.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.wallStart = c.now()
	c.wallBase = time.Duration(c.media.Load())
}

// Stop freezes the wall source at its current time.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.media.Store(int64(c.nowLocked()))
	c.running = false
}

// VideoDue reports whether a video frame at pts should be presented when
// the clock reads now.
func VideoDue(pts, now, tolerance time.Duration) bool {
	return pts <= now+tolerance
}
