package player

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/zsiec/reel/internal/worker"
	"github.com/zsiec/reel/media"
)

// Event is delivered to observers. The concrete types are StateChanged,
// FirstFrameRendered, SeekDone, PlayEnd, CacheTimeUpdate and ErrorEvent.
type Event interface {
	event()
}

// StateChanged reports a player state transition.
type StateChanged struct {
	From State
	To   State
}

// FirstFrameRendered is sent when the first frame after a start or seek is
// handed to a renderer.
type FirstFrameRendered struct {
	Type media.MediaType
}

// SeekDone is sent when the first frame at the seek target is decoded.
type SeekDone struct {
	Position time.Duration
}

// PlayEnd is sent when the stream ends and loop mode is off.
type PlayEnd struct{}

// CacheTimeUpdate reports the buffered media ahead of the playhead.
type CacheTimeUpdate struct {
	Cached time.Duration
}

// ErrorEvent reports a stage failure that moved the player to StateError.
type ErrorEvent struct {
	Code ErrorCode
	Err  error
}

func (StateChanged) event()       {}
func (FirstFrameRendered) event() {}
func (SeekDone) event()           {}
func (PlayEnd) event()            {}
func (CacheTimeUpdate) event()    {}
func (ErrorEvent) event()         {}

// Observer receives player events in order on the player's notifier
// goroutine. An observer may call back into the player, except Close.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// Subscription is the handle returned by AddObserver. Closing it stops
// delivery; events already being delivered may still arrive.
type Subscription struct {
	id       uuid.UUID
	observer Observer
	n        *notifier
}

// ID returns the subscription token.
func (s *Subscription) ID() string { return s.id.String() }

// Close unsubscribes. It is idempotent.
func (s *Subscription) Close() {
	if s != nil && s.n != nil {
		s.n.unsubscribe(s.id)
	}
}

const cacheReportInterval = 500 * time.Millisecond

// notifier delivers events to subscriptions in post order on its own
// worker, so a slow observer never stalls the control goroutine.
type notifier struct {
	log *slog.Logger
	w   *worker.Worker

	mu      sync.Mutex
	pending deque.Deque[Event]
	subs    []*Subscription
}

func newNotifier(log *slog.Logger) *notifier {
	n := &notifier{log: log}
	n.w = worker.New("notify", n.step, worker.WithLogger(log))
	return n
}

func (n *notifier) start() { n.w.Start() }

func (n *notifier) stop() { n.w.Stop() }

func (n *notifier) subscribe(o Observer) *Subscription {
	s := &Subscription{id: uuid.New(), observer: o, n: n}
	n.mu.Lock()
	n.subs = append(n.subs, s)
	n.mu.Unlock()
	return s
}

func (n *notifier) unsubscribe(id uuid.UUID) {
	n.mu.Lock()
	n.subs = slices.DeleteFunc(n.subs, func(s *Subscription) bool { return s.id == id })
	n.mu.Unlock()
}

func (n *notifier) post(ev Event) {
	n.mu.Lock()
	n.pending.PushBack(ev)
	n.mu.Unlock()
	n.w.Notify()
}

// step delivers one event to a snapshot of the current subscriptions.
func (n *notifier) step() bool {
	n.mu.Lock()
	if n.pending.Len() == 0 {
		n.mu.Unlock()
		return false
	}
	ev := n.pending.PopFront()
	subs := slices.Clone(n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		s.observer.OnEvent(ev)
	}
	return true
}
