package decode

import (
	"sync"

	"github.com/zsiec/reel/media"
)

// Async runs an inner synchronous decoder on a goroutine of its own and
// reports every output through the completion callback, the way platform
// hardware decoders do. Outputs are delivered in submission order.
type Async struct {
	inner Decoder

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*media.Frame
	busy    bool
	gen     uint64
	closed  bool
	started bool
	done    chan struct{}
	onDone  CompletionFunc
}

// NewAsync wraps inner.
func NewAsync(inner Decoder) *Async {
	a := &Async{inner: inner, done: make(chan struct{})}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *Async) Open(cfg Config) error {
	if err := a.inner.Open(cfg); err != nil {
		return err
	}
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	go a.loop()
	return nil
}

func (a *Async) SetCompletion(fn CompletionFunc) {
	a.mu.Lock()
	a.onDone = fn
	a.mu.Unlock()
}

// Decode queues in and returns immediately.
func (a *Async) Decode(in *media.Frame) (*media.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	a.pending = append(a.pending, in)
	a.cond.Broadcast()
	return nil, nil
}

func (a *Async) loop() {
	defer close(a.done)
	a.mu.Lock()
	for {
		for len(a.pending) == 0 && !a.closed {
			a.cond.Wait()
		}
		if a.closed {
			a.mu.Unlock()
			return
		}
		in := a.pending[0]
		a.pending = a.pending[1:]
		a.busy = true
		gen := a.gen
		a.mu.Unlock()

		out, err := a.inner.Decode(in)

		a.mu.Lock()
		fn := a.onDone
		stale := gen != a.gen
		a.mu.Unlock()
		if fn != nil && !stale {
			fn(in.PTS, out, err)
		}

		a.mu.Lock()
		a.busy = false
		a.cond.Broadcast()
	}
}

// Flush waits until every queued frame has been delivered.
func (a *Async) Flush() {
	a.mu.Lock()
	for (len(a.pending) > 0 || a.busy) && !a.closed {
		a.cond.Wait()
	}
	a.mu.Unlock()
	a.inner.Flush()
}

// Reset drops queued frames. An output already being produced is discarded.
func (a *Async) Reset() {
	a.mu.Lock()
	a.pending = nil
	a.gen++
	for a.busy && !a.closed {
		a.cond.Wait()
	}
	a.mu.Unlock()
	a.inner.Reset()
}

func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.pending = nil
	started := a.started
	a.cond.Broadcast()
	a.mu.Unlock()
	if started {
		<-a.done
	}
	return a.inner.Close()
}
