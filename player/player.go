// Package player drives a playlist of media resources through the reel
// pipeline: I/O, demux, decode and the render-side pull surface, under a
// single state machine.
//
// Three goroutines are owned by a Player. The control goroutine owns the
// state, the seek epoch and the stream info; every public method is
// executed there. The decode worker moves frames from the raw queue through
// the decoder into the decoded queues. The notifier worker delivers events
// to observers. I/O runs on the handler's own worker and rendering on the
// renderer's goroutine, which pulls through ReadAudio and NextVideoFrame.
//
// Other goroutines never mutate control state; they post epoch-tagged
// events that the control goroutine applies or, when stale, ignores.
package player

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/ioman"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/queue"
	"github.com/zsiec/reel/internal/render"
	"github.com/zsiec/reel/internal/ringbuf"
	"github.com/zsiec/reel/internal/source"
	"github.com/zsiec/reel/internal/worker"
	"github.com/zsiec/reel/media"
)

var (
	ErrClosed       = errors.New("player: closed")
	ErrInvalidState = errors.New("player: operation not valid in current state")
	ErrNotReady     = errors.New("player: stream not probed yet")
)

const leftoverSize = 64 << 10

// Player plays one playlist at a time.
type Player struct {
	id       string
	log      *slog.Logger
	now      func() time.Time
	metrics  *metrics.Metrics
	factory  ioman.HandlerFactory
	demuxers *demux.Registry
	decoders *decode.Registry
	audio    AudioRenderer
	video    VideoRenderer

	io      *ioman.Manager
	clock   *clock.Clock
	cache   *clock.CacheController
	rawQ    *queue.FrameQueue
	audioQ  *queue.FrameQueue
	videoQ  *queue.FrameQueue
	decodeW *worker.Worker

	epoch      atomic.Uint64
	state      atomic.Int32
	loop       atomic.Bool
	ioMu       sync.Mutex
	cacheMu    sync.Mutex
	ioActive   atomic.Bool   // false while the control goroutine holds I/O paused
	rawEOS     atomic.Uint64 // epoch+1 once the demuxer has emitted its last frame
	decodedEOS atomic.Uint64 // epoch+1 once the decoder has been flushed

	// I/O side.
	demuxMu   sync.Mutex
	demux     demux.Demuxer
	probe     []byte
	probeSize int
	probeWant int // probe length to wait for after a truncated header
	skip      int64
	halted    bool

	// Decode side.
	decodeMu    sync.Mutex
	dec         *decode.Orchestrator
	trimTo      time.Duration
	trimEpoch   uint64
	readyEpoch  uint64
	decEOSEpoch uint64
	postedAudio media.AudioInfo

	// Render side.
	renderMu   sync.Mutex
	left       *ringbuf.Ring[byte]
	leftEpoch  uint64
	leftBPS    int
	firstEpoch uint64
	drainEpoch uint64

	videoTolerance time.Duration
	lastCache      time.Duration // notifier goroutine only

	// Control goroutine only.
	closed       bool
	settings     Settings
	target       State
	seeking      bool
	seekPos      time.Duration
	opened       bool
	audioOpen    bool
	audioInfo    media.AudioInfo
	videoOpen    bool
	drainPending uint64

	infoMu sync.RWMutex
	info   media.StreamInfo

	cmds     chan command
	mail     mailbox
	quit     chan struct{}
	done     chan struct{}
	notifier *notifier

	closeOnce sync.Once
}

// New creates a player for paths. The player starts in StateInitializing;
// nothing is read until Prepare or Play.
func New(paths []string, settings Settings, opts ...Option) (*Player, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	p := &Player{
		id:       uuid.NewString(),
		log:      slog.Default(),
		now:      time.Now,
		settings: settings,
		rawQ:     queue.New(),
		audioQ:   queue.New(),
		videoQ:   queue.New(),
		left:     ringbuf.New[byte](leftoverSize),
		cmds:     make(chan command),
		mail:     mailbox{wake: make(chan struct{}, 1)},
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "player", "player", p.id)
	if p.factory == nil {
		p.factory = source.Factory(source.Options{Logger: p.log})
	}
	if p.demuxers == nil {
		p.demuxers = demux.DefaultRegistry()
	}
	if p.decoders == nil {
		p.decoders = decode.DefaultRegistry()
	}
	if p.audio == nil {
		p.audio = render.NewNull(render.WithLogger(p.log))
	}

	cache, err := clock.NewCacheController(settings.MinCacheTime, settings.MaxCacheTime, p.onCachePause, p.onCacheResume)
	if err != nil {
		return nil, err
	}
	p.cache = cache
	p.clock = clock.New(p.now)
	p.probeSize = p.demuxers.ProbeSize()
	p.loop.Store(settings.Loop)
	p.videoTolerance = settings.VideoTolerance

	p.io = ioman.New(paths, p.factory, ioman.WithLogger(p.log))
	p.io.SetCallback(p.onData)

	p.decodeW = worker.New("decode", p.decodeStep, worker.WithLogger(p.log))
	p.dec = decode.NewOrchestrator(p.decoders, p.log)
	p.dec.SetNotify(p.decodeW.Notify)

	for _, q := range []*queue.FrameQueue{p.rawQ, p.audioQ, p.videoQ} {
		q.OnChange(p.onQueueChange)
	}

	p.notifier = newNotifier(p.log)
	p.notifier.w.Timers().RunLoop(cacheReportInterval, p.reportCache)
	p.notifier.start()
	p.decodeW.Start()

	p.metrics.RecordPlayerOpen()
	p.setState(StateInitializing)
	go p.run()
	return p, nil
}

// ID returns the player id.
func (p *Player) ID() string { return p.id }

// State returns the current state.
func (p *Player) State() State { return State(p.state.Load()) }

// Info returns the stream description, valid once the resource is probed.
func (p *Player) Info() media.StreamInfo {
	p.infoMu.RLock()
	defer p.infoMu.RUnlock()
	return p.info
}

// CurrentPlayedTime returns the media time at the playhead.
func (p *Player) CurrentPlayedTime() time.Duration { return p.clock.Now() }

// CacheTime returns the decoded media buffered ahead of the playhead.
func (p *Player) CacheTime() time.Duration {
	return p.audioQ.Duration() + p.videoQ.Duration()
}

// Settings returns the current settings.
func (p *Player) Settings() Settings {
	var s Settings
	_ = p.do(func() error {
		s = p.settings
		return nil
	})
	s.Loop = p.loop.Load()
	return s
}

// Prepare starts reading and buffers up to StateReady without rendering.
func (p *Player) Prepare() error { return p.do(p.prepare) }

// Play starts or resumes playback. From Stop, Completed or Error it
// restarts from the beginning through StateBuffering.
func (p *Player) Play() error { return p.do(p.play) }

// Pause suspends rendering. It is a no-op unless the player is Playing.
func (p *Player) Pause() error { return p.do(p.pause) }

// Stop halts the pipeline and rewinds to the beginning.
func (p *Player) Stop() error { return p.do(p.stop) }

// Seek moves the playhead to t. When accurate is false playback resumes
// at the nearest position the container can seek to at or before t;
// otherwise samples before t are discarded.
func (p *Player) Seek(t time.Duration, accurate bool) error {
	return p.do(func() error { return p.seek(t, accurate) })
}

// Open replaces the playlist. The player returns to StateInitializing.
func (p *Player) Open(paths ...string) error {
	return p.do(func() error { return p.open(paths) })
}

// SetLoop turns loop mode on or off.
func (p *Player) SetLoop(loop bool) { p.loop.Store(loop) }

// SetVolume sets the output volume in [0, 1].
func (p *Player) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return ErrInvalidSettings
	}
	return p.do(func() error {
		p.settings.Volume = v
		p.audio.SetVolume(v)
		return nil
	})
}

// SetMute mutes or unmutes the audio output.
func (p *Player) SetMute(mute bool) error {
	return p.do(func() error {
		p.settings.Mute = mute
		p.audio.SetMute(mute)
		return nil
	})
}

// SetRenderSize forwards the output size to the video renderer.
func (p *Player) SetRenderSize(width, height int) error {
	if width < 0 || height < 0 {
		return ErrInvalidSettings
	}
	return p.do(func() error {
		p.settings.RenderWidth, p.settings.RenderHeight = width, height
		if p.video != nil {
			p.video.SetRenderSize(width, height)
		}
		return nil
	})
}

// AddObserver subscribes o to player events.
func (p *Player) AddObserver(o Observer) *Subscription {
	return p.notifier.subscribe(o)
}

// RemoveObserver cancels s.
func (p *Player) RemoveObserver(s *Subscription) { s.Close() }

// Close stops playback and releases every resource. It must not be called
// from an Observer.
func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.do(p.shutdown)
		close(p.quit)
		<-p.done
		p.notifier.stop()
		p.metrics.RecordPlayerClose(p.id)
	})
	return err
}

type command struct {
	fn    func() error
	reply chan error
}

// do runs fn on the control goroutine and waits for its result.
func (p *Player) do(fn func() error) error {
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case p.cmds <- c:
	case <-p.done:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-p.done:
		return ErrClosed
	}
}
