package decode

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/reel/media"
)

// Result pairs a decoded frame with the input it was produced from. Out
// inherits the input's Epoch.
type Result struct {
	In  *media.Frame
	Out *media.Frame
	Err error
}

type completion struct {
	gen uint64
	pts int64
	out *media.Frame
	err error
}

// Orchestrator tracks frames submitted to a decoder by timestamp and funnels
// every output, synchronous or not, through one mailbox drained by the
// decode stage.
//
// Submit, Drain, Flush, Reset and Close must be called from one goroutine
// at a time. Completions may arrive on any goroutine.
type Orchestrator struct {
	log      *slog.Logger
	registry *Registry

	dec   Decoder
	codec media.Codec

	mu       sync.Mutex
	gen      uint64
	inflight map[int64]*media.Frame
	mailbox  []completion
	notify   func()
}

// NewOrchestrator creates an orchestrator that opens decoders from registry
// on the first submitted frame. If log is nil, slog.Default() is used.
func NewOrchestrator(registry *Registry, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Orchestrator{
		log:      log.With("component", "decode"),
		registry: registry,
		inflight: make(map[int64]*media.Frame),
	}
}

// SetNotify registers fn to be called whenever a completion is posted, so
// the owning stage can wake up and Drain.
func (o *Orchestrator) SetNotify(fn func()) {
	o.mu.Lock()
	o.notify = fn
	o.mu.Unlock()
}

// Submit hands f to the decoder. The decoder is opened lazily from the first
// frame's codec. A frame whose timestamp is already in flight is rejected
// with ErrDuplicateTimestamp.
func (o *Orchestrator) Submit(f *media.Frame) error {
	if o.dec == nil {
		if err := o.open(f); err != nil {
			return err
		}
	}

	o.mu.Lock()
	if _, dup := o.inflight[f.PTS]; dup {
		o.mu.Unlock()
		return fmt.Errorf("%w: pts %d", ErrDuplicateTimestamp, f.PTS)
	}
	o.inflight[f.PTS] = f
	gen := o.gen
	o.mu.Unlock()

	out, err := o.dec.Decode(f)
	if out != nil || err != nil {
		o.post(completion{gen: gen, pts: f.PTS, out: out, err: err})
	}
	return nil
}

func (o *Orchestrator) open(f *media.Frame) error {
	cfg := ConfigFor(f)
	dec, err := o.registry.New(cfg.Codec)
	if err != nil {
		return err
	}
	o.mu.Lock()
	gen := o.gen
	o.mu.Unlock()
	dec.SetCompletion(o.completer(gen))
	if err := dec.Open(cfg); err != nil {
		return fmt.Errorf("decode: opening %s decoder: %w", cfg.Codec, err)
	}
	o.dec = dec
	o.codec = cfg.Codec
	o.log.Info("decoder opened", "codec", cfg.Codec)
	return nil
}

// completer binds asynchronous completions to the generation they were
// issued under.
func (o *Orchestrator) completer(gen uint64) CompletionFunc {
	return func(pts int64, out *media.Frame, err error) {
		o.post(completion{gen: gen, pts: pts, out: out, err: err})
	}
}

func (o *Orchestrator) post(c completion) {
	o.mu.Lock()
	o.mailbox = append(o.mailbox, c)
	notify := o.notify
	o.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Drain returns the completions posted since the last call, matched back to
// their input frames. Completions from before the last Reset, or for frames
// no longer in flight, are dropped.
func (o *Orchestrator) Drain() []Result {
	o.mu.Lock()
	mail := o.mailbox
	o.mailbox = nil
	var results []Result
	for _, c := range mail {
		if c.gen != o.gen {
			o.log.Debug("dropping stale completion", "pts", c.pts)
			releaseOut(c.out)
			continue
		}
		in, ok := o.inflight[c.pts]
		if !ok {
			o.log.Debug("dropping unmatched completion", "pts", c.pts)
			releaseOut(c.out)
			continue
		}
		delete(o.inflight, c.pts)
		if c.out != nil {
			c.out.Epoch = in.Epoch
		}
		results = append(results, Result{In: in, Out: c.out, Err: c.err})
	}
	o.mu.Unlock()
	return results
}

func releaseOut(f *media.Frame) {
	if f != nil {
		f.Release()
	}
}

// Flush asks the decoder to emit everything it holds, returns the resulting
// outputs and forgets any input the decoder never completed.
func (o *Orchestrator) Flush() []Result {
	if o.dec != nil {
		o.dec.Flush()
	}
	results := o.Drain()
	o.mu.Lock()
	if n := len(o.inflight); n > 0 {
		o.log.Debug("flush abandoned in-flight frames", "count", n)
	}
	clear(o.inflight)
	o.mu.Unlock()
	return results
}

// Reset discards every in-flight frame and pending completion and resets the
// decoder. Completions still arriving from before the reset are dropped.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	clear(o.inflight)
	mail := o.mailbox
	o.mailbox = nil
	o.mu.Unlock()

	for _, c := range mail {
		releaseOut(c.out)
	}
	if o.dec != nil {
		o.dec.Reset()
		o.dec.SetCompletion(o.completer(gen))
	}
}

// Close resets the orchestrator and closes the decoder. A later Submit
// opens a fresh decoder.
func (o *Orchestrator) Close() error {
	o.Reset()
	if o.dec == nil {
		return nil
	}
	err := o.dec.Close()
	o.dec = nil
	return err
}

// InFlight returns the number of submitted frames awaiting output.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Codec returns the codec of the open decoder.
func (o *Orchestrator) Codec() media.Codec {
	return o.codec
}
