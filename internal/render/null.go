package render

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/reel/internal/worker"
	"github.com/zsiec/reel/media"
)

// DefaultPeriod is how often Null pulls audio.
const DefaultPeriod = 20 * time.Millisecond

// Null is an audio output without a device. A loop timer on its worker
// pulls audio at real-time rate and discards it, or writes it to an
// io.Writer, so playback advances as it would on a sound card.
type Null struct {
	log    *slog.Logger
	period time.Duration
	out    io.Writer
	w      *worker.Worker

	mu      sync.Mutex
	pull    func([]byte) int
	info    media.AudioInfo
	timer   worker.TimerID
	looping bool
	playing bool
	last    time.Time
	owed    time.Duration
	volume  float64
	mute    bool
	buf     []byte

	consumed atomic.Int64
}

// Option configures a Null renderer.
type Option func(*Null)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(n *Null) {
		if log != nil {
			n.log = log
		}
	}
}

// WithOutput writes every rendered byte to w.
func WithOutput(w io.Writer) Option {
	return func(n *Null) { n.out = w }
}

// WithPeriod sets the pull interval.
func WithPeriod(d time.Duration) Option {
	return func(n *Null) {
		if d > 0 {
			n.period = d
		}
	}
}

// NewNull creates a stopped Null renderer.
func NewNull(opts ...Option) *Null {
	n := &Null{
		log:    slog.Default(),
		period: DefaultPeriod,
		volume: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With("component", "render", "output", "null")
	n.w = worker.New("render-null", nil, worker.WithLogger(n.log))
	return n
}

// Open implements player.AudioRenderer.
func (n *Null) Open(info media.AudioInfo, pull func([]byte) int) error {
	if err := CheckFormat(info); err != nil {
		return err
	}
	n.mu.Lock()
	n.info = info
	n.pull = pull
	n.owed = 0
	start := !n.looping
	n.looping = true
	n.mu.Unlock()

	if start {
		id := n.w.Timers().RunLoop(n.period, n.tick)
		n.mu.Lock()
		n.timer = id
		n.mu.Unlock()
		n.w.Start()
	}
	n.log.Debug("opened", "rate", info.SampleRate, "channels", info.Channels)
	return nil
}

func (n *Null) Play() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.playing {
		n.playing = true
		n.last = time.Now()
	}
}

func (n *Null) Pause() {
	n.mu.Lock()
	n.playing = false
	n.mu.Unlock()
}

func (n *Null) Stop() {
	n.mu.Lock()
	n.playing = false
	n.owed = 0
	n.mu.Unlock()
}

// Flush drops the fractional period carried over between pulls.
func (n *Null) Flush() {
	n.mu.Lock()
	n.owed = 0
	n.mu.Unlock()
}

func (n *Null) SetVolume(v float64) {
	n.mu.Lock()
	n.volume = v
	n.mu.Unlock()
}

func (n *Null) SetMute(mute bool) {
	n.mu.Lock()
	n.mute = mute
	n.mu.Unlock()
}

// Consumed returns the number of bytes pulled so far.
func (n *Null) Consumed() int64 { return n.consumed.Load() }

// Close stops the renderer's worker.
func (n *Null) Close() error {
	n.mu.Lock()
	id, looping := n.timer, n.looping
	n.playing = false
	n.mu.Unlock()
	if looping {
		n.w.Timers().Cancel(id)
	}
	n.w.Stop()
	return nil
}

// tick pulls the audio that should have played since the previous tick.
func (n *Null) tick() {
	n.mu.Lock()
	if !n.playing || n.pull == nil {
		n.mu.Unlock()
		return
	}
	now := time.Now()
	n.owed += now.Sub(n.last)
	n.last = now

	rate := int64(n.info.SampleRate)
	frames := int64(n.owed) * rate / int64(time.Second)
	n.owed -= time.Duration(frames * int64(time.Second) / rate)
	size := int(frames) * n.info.BlockAlign()
	if cap(n.buf) < size {
		n.buf = make([]byte, size)
	}
	buf := n.buf[:size]
	pull, volume, mute := n.pull, n.volume, n.mute
	n.mu.Unlock()

	if size == 0 {
		return
	}
	got := pull(buf)
	ApplyVolume(buf[:got], volume, mute)
	n.consumed.Add(int64(got))
	if n.out != nil && got > 0 {
		if _, err := n.out.Write(buf[:got]); err != nil {
			n.log.Warn("writing output", "error", err)
		}
	}
}
