// Package queue implements the thread-safe frame queue used to hand frames
// from one pipeline stage to the next.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"

	"github.com/zsiec/reel/media"
)

// Stats is a snapshot of a queue taken right after a mutation.
type Stats struct {
	Len      int
	Duration time.Duration
}

// FrameQueue is a mutex-protected double-ended queue of frames shared
// between exactly one producer stage and one consumer stage.
//
// The lock covers handle manipulation only. Bulk consumers use Detach and
// process the returned frames without holding the lock, so a producer is
// never blocked behind consumer processing time.
type FrameQueue struct {
	order uint64 // global lock order for Swap

	mu       sync.Mutex
	frames   *deque.Deque[*media.Frame]
	duration time.Duration

	onChange atomic.Pointer[func(Stats)]
}

var queueOrder atomic.Uint64

// New creates an empty FrameQueue.
func New() *FrameQueue {
	return &FrameQueue{
		order:  queueOrder.Add(1),
		frames: new(deque.Deque[*media.Frame]),
	}
}

// OnChange registers fn to be called after every mutation, outside the
// queue lock, with the post-mutation stats. Passing nil removes the hook.
func (q *FrameQueue) OnChange(fn func(Stats)) {
	if fn == nil {
		q.onChange.Store(nil)
		return
	}
	q.onChange.Store(&fn)
}

func (q *FrameQueue) notify(s Stats) {
	if fn := q.onChange.Load(); fn != nil {
		(*fn)(s)
	}
}

// Push appends f at the back of the queue.
func (q *FrameQueue) Push(f *media.Frame) {
	q.mu.Lock()
	q.frames.PushBack(f)
	q.duration += f.DurationTime()
	s := q.statsLocked()
	q.mu.Unlock()
	q.notify(s)
}

// PushAll appends frames in order under a single lock acquisition.
func (q *FrameQueue) PushAll(frames []*media.Frame) {
	if len(frames) == 0 {
		return
	}
	q.mu.Lock()
	for _, f := range frames {
		q.frames.PushBack(f)
		q.duration += f.DurationTime()
	}
	s := q.statsLocked()
	q.mu.Unlock()
	q.notify(s)
}

// Pop removes and returns the front frame. It returns false on an empty
// queue, which is not an error.
func (q *FrameQueue) Pop() (*media.Frame, bool) {
	q.mu.Lock()
	if q.frames.Len() == 0 {
		q.mu.Unlock()
		return nil, false
	}
	f := q.frames.PopFront()
	q.duration -= f.DurationTime()
	s := q.statsLocked()
	q.mu.Unlock()
	q.notify(s)
	return f, true
}

// Front returns the front frame without removing it.
func (q *FrameQueue) Front() (*media.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.frames.Len() == 0 {
		return nil, false
	}
	return q.frames.Front(), true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Len()
}

// Duration returns the summed duration of all queued frames.
func (q *FrameQueue) Duration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Detach swaps the whole internal sequence out in one lock acquisition and
// returns it in FIFO order, leaving the queue empty.
func (q *FrameQueue) Detach() []*media.Frame {
	q.mu.Lock()
	detached := q.frames
	q.frames = new(deque.Deque[*media.Frame])
	q.duration = 0
	q.mu.Unlock()

	if detached.Len() == 0 {
		return nil
	}
	q.notify(Stats{})

	out := make([]*media.Frame, 0, detached.Len())
	for detached.Len() > 0 {
		out = append(out, detached.PopFront())
	}
	return out
}

// Clear discards every queued frame, releasing any attached GPU surfaces.
// It returns the number of frames dropped.
func (q *FrameQueue) Clear() int {
	frames := q.Detach()
	for _, f := range frames {
		f.Release()
	}
	return len(frames)
}

// Swap exchanges the contents of q and other.
func (q *FrameQueue) Swap(other *FrameQueue) {
	if q == other {
		return
	}
	first, second := q, other
	if second.order < first.order {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	q.frames, other.frames = other.frames, q.frames
	q.duration, other.duration = other.duration, q.duration
	qs, os := q.statsLocked(), other.statsLocked()
	second.mu.Unlock()
	first.mu.Unlock()

	q.notify(qs)
	other.notify(os)
}

func (q *FrameQueue) statsLocked() Stats {
	return Stats{Len: q.frames.Len(), Duration: q.duration}
}
