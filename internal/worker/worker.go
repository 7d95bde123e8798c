// Package worker provides the cooperative execution substrate of the
// pipeline: a controllable background goroutine that alternates between a
// private timer pool and a bounded unit of work.
package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/petermattis/goid"
)

// WorkFunc performs one bounded unit of work. It returns true if it made
// progress; a false return lets the worker block until notified, resumed,
// stopped, or a timer comes due.
type WorkFunc func() bool

// State is the lifecycle state of a Worker.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker runs a WorkFunc repeatedly on a dedicated goroutine.
//
// Each iteration first drains the worker's TimerPool and then invokes the
// work function once. Pause suspends iterations without ending the
// goroutine; Stop is terminal and joins it.
type Worker struct {
	name   string
	log    *slog.Logger
	fn     WorkFunc
	clock  Clock
	timers *TimerPool

	mu      sync.Mutex
	state   State
	started bool
	gid     int64

	wake chan struct{}
	done chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// Clock is the time source behind a worker's timers and its idle wait.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WithClock sets the time source. If nil, the system clock is used.
func WithClock(c Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// New creates a worker in the idle state. fn may be nil, in which case the
// worker only services its timers.
func New(name string, fn WorkFunc, opts ...Option) *Worker {
	w := &Worker{
		name:  name,
		log:   slog.Default(),
		fn:    fn,
		clock: systemClock{},
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.timers = NewTimerPool(w.clock.Now)
	w.timers.wake = w.Notify
	w.log = w.log.With("component", "worker", "worker", name)
	return w
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Timers returns the worker's private timer pool.
func (w *Worker) Timers() *TimerPool { return w.timers }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins (or resumes) repeated invocation of the work function.
// Starting a stopped worker is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateRunning
	spawn := !w.started
	w.started = true
	w.mu.Unlock()

	if spawn {
		go w.run()
		w.log.Debug("started")
	}
	w.Notify()
}

// Resume is equivalent to Start.
func (w *Worker) Resume() { w.Start() }

// Pause suspends invocation after the in-flight iteration. It may be called
// from the work function itself.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRunning {
		w.state = StatePaused
	}
}

// Notify wakes a worker blocked after an idle iteration. Notifications are
// not lost: one arriving while the work function runs causes another
// iteration.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop terminates the worker, waiting for any in-flight iteration to finish.
// It must not be called from the worker's own goroutine; doing so panics.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.started && w.gid != 0 && goid.Get() == w.gid {
		w.mu.Unlock()
		panic("worker: Stop called from worker " + w.name + " own goroutine")
	}
	if w.state == StateStopped {
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.done
		}
		return
	}
	w.state = StateStopped
	started := w.started
	w.mu.Unlock()

	w.Notify()
	if started {
		<-w.done
		w.log.Debug("stopped")
	}
}

func (w *Worker) run() {
	defer close(w.done)

	w.mu.Lock()
	w.gid = goid.Get()
	w.mu.Unlock()

	for {
		w.mu.Lock()
		state := w.state
		w.mu.Unlock()

		switch state {
		case StateStopped:
			return
		case StatePaused:
			<-w.wake
			continue
		}

		w.timers.Loop()

		progressed := false
		if w.fn != nil {
			progressed = w.fn()
		}
		if progressed {
			continue
		}

		// Nothing to do: block until notified or the next timer is due.
		next, ok := w.timers.NextExpiry()
		if !ok {
			<-w.wake
			continue
		}
		d := next.Sub(w.clock.Now())
		if d <= 0 {
			continue
		}
		select {
		case <-w.wake:
		case <-w.clock.After(d):
		}
	}
}
