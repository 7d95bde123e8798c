package worker

import (
	"container/heap"
	"sync"
	"time"
)

// TimerID identifies a scheduled callback. IDs are issued monotonically and
// never reused within a pool.
type TimerID uint64

type timer struct {
	id       TimerID
	expiry   time.Time
	interval time.Duration // > 0 for loop timers
	cb       func()
	valid    bool
	index    int // heap position, -1 when not queued
}

// timerHeap orders timers by expiry, breaking ties by id so that timers
// scheduled for the same instant run in insertion order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiry.Equal(h[j].expiry) {
		return h[i].id < h[j].id
	}
	return h[i].expiry.Before(h[j].expiry)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerPool is a min-heap of scheduled callbacks executed cooperatively by
// whoever calls Loop, normally the owning Worker between units of work.
//
// Cancellation is advisory: a cancelled timer never fires once the
// cancellation is observed, but a callback already executing is not
// interrupted. Callbacks must not panic; the pool does not recover them.
type TimerPool struct {
	mu     sync.Mutex
	heap   timerHeap
	byID   map[TimerID]*timer
	nextID TimerID
	now    func() time.Time
	wake   func() // called after a timer is added
}

// NewTimerPool creates an empty pool. now defaults to time.Now.
func NewTimerPool(now func() time.Time) *TimerPool {
	if now == nil {
		now = time.Now
	}
	return &TimerPool{
		byID: make(map[TimerID]*timer),
		now:  now,
	}
}

// RunAt schedules cb to run once at or after at.
func (p *TimerPool) RunAt(at time.Time, cb func()) TimerID {
	return p.add(at, 0, cb)
}

// RunAfter schedules cb to run once, no earlier than d from now.
func (p *TimerPool) RunAfter(d time.Duration, cb func()) TimerID {
	return p.add(p.now().Add(d), 0, cb)
}

// RunLoop schedules cb to run every interval until cancelled. The first run
// happens one interval from now.
func (p *TimerPool) RunLoop(interval time.Duration, cb func()) TimerID {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return p.add(p.now().Add(interval), interval, cb)
}

func (p *TimerPool) add(at time.Time, interval time.Duration, cb func()) TimerID {
	p.mu.Lock()
	p.nextID++
	t := &timer{
		id:       p.nextID,
		expiry:   at,
		interval: interval,
		cb:       cb,
		valid:    true,
	}
	p.byID[t.id] = t
	heap.Push(&p.heap, t)
	wake := p.wake
	p.mu.Unlock()

	if wake != nil {
		wake()
	}
	return t.id
}

// Cancel invalidates the timer. It returns false if the timer already fired
// (one-shot) or was never scheduled.
func (p *TimerPool) Cancel(id TimerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.byID[id]
	if !ok {
		return false
	}
	t.valid = false
	delete(p.byID, id)
	if t.index >= 0 {
		heap.Remove(&p.heap, t.index)
	}
	return true
}

// Len returns the number of scheduled, valid timers.
func (p *TimerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// NextExpiry returns the earliest pending expiry.
func (p *TimerPool) NextExpiry() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.heap) == 0 {
		return time.Time{}, false
	}
	return p.heap[0].expiry, true
}

// Loop runs every timer whose expiry is at or before now and returns how many
// callbacks executed. Expired timers are detached under the lock and run
// outside it, so callbacks may schedule or cancel timers freely.
func (p *TimerPool) Loop() int {
	p.mu.Lock()
	now := p.now()
	var batch []*timer
	for len(p.heap) > 0 && !p.heap[0].expiry.After(now) {
		batch = append(batch, heap.Pop(&p.heap).(*timer))
	}
	p.mu.Unlock()

	ran := 0
	for _, t := range batch {
		p.mu.Lock()
		valid := t.valid
		p.mu.Unlock()
		if !valid {
			continue
		}

		t.cb()
		ran++

		p.mu.Lock()
		if t.valid && t.interval > 0 {
			t.expiry = p.now().Add(t.interval)
			heap.Push(&p.heap, t)
		} else if t.valid {
			t.valid = false
			delete(p.byID, t.id)
		}
		p.mu.Unlock()
	}
	return ran
}
