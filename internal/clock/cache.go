package clock

import (
	"errors"
	"sync"
	"time"
)

var ErrBadBounds = errors.New("clock: max cache time must exceed min cache time")

// CacheController is the pipeline's admission control. It pauses
// production when buffered-but-unrendered media exceeds max and resumes it
// once buffering falls below min, or runs dry when min is zero. Update is called on every queue mutation.
//
// Callbacks run on the goroutine calling Update, outside the controller's
// lock, and must not block.
type CacheController struct {
	mu       sync.Mutex
	min, max time.Duration
	paused   bool
	buffered time.Duration

	onPause  func()
	onResume func()
}

// NewCacheController creates a controller; min must be below max.
func NewCacheController(min, max time.Duration, onPause, onResume func()) (*CacheController, error) {
	if min < 0 || max <= min {
		return nil, ErrBadBounds
	}
	return &CacheController{min: min, max: max, onPause: onPause, onResume: onResume}, nil
}

// Update records the buffered duration and fires a transition if a
// threshold was crossed. It reports whether production is now paused.
func (c *CacheController) Update(buffered time.Duration) bool {
	c.mu.Lock()
	c.buffered = buffered
	var fire func()
	switch {
	case !c.paused && buffered > c.max:
		c.paused = true
		fire = c.onPause
	case c.paused && (buffered < c.min || buffered <= 0):
		c.paused = false
		fire = c.onResume
	}
	paused := c.paused
	c.mu.Unlock()

	if fire != nil {
		fire()
	}
	return paused
}

// Release clears a pause without waiting for the buffer to drain, used when
// the queue is flushed or the stream ended.
func (c *CacheController) Release() {
	c.mu.Lock()
	was := c.paused
	c.paused = false
	c.buffered = 0
	fire := c.onResume
	c.mu.Unlock()
	if was && fire != nil {
		fire()
	}
}

// Paused reports whether production is paused.
func (c *CacheController) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Buffered returns the last reported buffered duration.
func (c *CacheController) Buffered() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// Bounds returns the thresholds.
func (c *CacheController) Bounds() (min, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.min, c.max
}

// SetBounds replaces the thresholds and re-evaluates the last reported
// buffered duration against them.
func (c *CacheController) SetBounds(min, max time.Duration) error {
	if min < 0 || max <= min {
		return ErrBadBounds
	}
	c.mu.Lock()
	c.min, c.max = min, max
	buffered := c.buffered
	c.mu.Unlock()
	c.Update(buffered)
	return nil
}
