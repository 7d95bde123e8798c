package player

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/media"
)

type eventKind int

const (
	evInfo eventKind = iota
	evAudioFormat
	evBuffered
	evDrained
	evFirstFrame
	evError
)

// pipeEvent is how pipeline goroutines signal the control goroutine.
type pipeEvent struct {
	kind  eventKind
	epoch uint64
	info  media.StreamInfo
	audio media.AudioInfo
	media media.MediaType
	code  ErrorCode
	err   error
}

// mailbox is an unbounded FIFO of pipeline events. Posting never blocks.
type mailbox struct {
	mu    sync.Mutex
	items []pipeEvent
	wake  chan struct{}
}

func (m *mailbox) post(ev pipeEvent) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []pipeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func (p *Player) post(ev pipeEvent) { p.mail.post(ev) }

func (p *Player) postError(epoch uint64, code ErrorCode, err error) {
	p.post(pipeEvent{kind: evError, epoch: epoch, code: code, err: err})
}

// run is the control goroutine.
func (p *Player) run() {
	defer close(p.done)
	closed := false
	for {
		select {
		case c := <-p.cmds:
			if closed {
				c.reply <- ErrClosed
				continue
			}
			c.reply <- c.fn()
			closed = p.closed
		case <-p.mail.wake:
			for _, ev := range p.mail.take() {
				if !closed {
					p.handle(ev)
				}
			}
		case <-p.quit:
			return
		}
	}
}

func (p *Player) handle(ev pipeEvent) {
	if ev.epoch != p.epoch.Load() {
		p.log.Debug("ignoring stale pipeline event", "kind", ev.kind, "epoch", ev.epoch)
		return
	}
	if p.State() == StateError && ev.kind != evInfo {
		return
	}
	switch ev.kind {
	case evInfo:
		p.applyInfo(ev.info)
	case evAudioFormat:
		p.openAudio(ev.audio)
	case evBuffered:
		p.buffered()
	case evDrained:
		p.drained()
	case evFirstFrame:
		p.notifier.post(FirstFrameRendered{Type: ev.media})
	case evError:
		p.fail(ev.code, ev.err)
	}
}

func (p *Player) setState(to State) {
	from := p.State()
	if from == to {
		return
	}
	p.state.Store(int32(to))
	p.metrics.RecordState(to.String())
	p.log.Debug("state changed", "from", from, "to", to)

	if from == StatePlaying {
		if p.audioOpen {
			if to == StateStop {
				p.audio.Stop()
			} else {
				p.audio.Pause()
			}
		}
		p.clock.Stop()
	}
	if to == StatePlaying {
		if p.audioOpen {
			p.audio.Play()
		}
		p.clock.Start()
	}
	p.notifier.post(StateChanged{From: from, To: to})

	if to == StatePlaying && p.drainPending == p.epoch.Load()+1 {
		p.drainPending = 0
		p.complete()
	}
}

func (p *Player) fail(code ErrorCode, err error) {
	if p.State() == StateError {
		return
	}
	p.log.Error("pipeline failed", "stage", code, "error", err)
	p.metrics.RecordError(code.String())
	p.haltIO()
	p.seeking = false
	p.setState(StateError)
	p.notifier.post(ErrorEvent{Code: code, Err: err})
}

func (p *Player) applyInfo(info media.StreamInfo) {
	p.infoMu.Lock()
	p.info = info
	p.infoMu.Unlock()
	p.log.Info("stream probed", "duration", info.Duration, "audio", info.HasAudio, "video", info.HasVideo)

	if info.HasVideo && !info.HasAudio {
		p.clock.SetSource(clock.SourceWall)
	} else {
		p.clock.SetSource(clock.SourceAudio)
	}
	if info.HasVideo && p.video != nil && !p.videoOpen {
		if err := p.video.Open(info.Video); err != nil {
			p.fail(CodeRender, fmt.Errorf("player: opening video output: %w", err))
			return
		}
		p.videoOpen = true
		if p.settings.RenderWidth > 0 && p.settings.RenderHeight > 0 {
			p.video.SetRenderSize(p.settings.RenderWidth, p.settings.RenderHeight)
		}
	}
}

// openAudio (re)opens the audio renderer for the decoded format, which is
// only known once the first frame has been decoded.
func (p *Player) openAudio(info media.AudioInfo) {
	if p.audioOpen && info == p.audioInfo {
		return
	}
	if p.audioOpen {
		p.audio.Stop()
	}
	if err := p.audio.Open(info, p.ReadAudio); err != nil {
		p.audioOpen = false
		p.fail(CodeRender, fmt.Errorf("player: opening audio output: %w", err))
		return
	}
	p.audioOpen = true
	p.audioInfo = info
	p.audio.SetVolume(p.settings.Volume)
	p.audio.SetMute(p.settings.Mute)
	p.log.Info("audio output opened", "rate", info.SampleRate, "channels", info.Channels, "format", info.Format)
	if p.State() == StatePlaying {
		p.audio.Play()
	}
}

// buffered handles the first decoded frame of the current epoch.
func (p *Player) buffered() {
	if p.seeking {
		p.seeking = false
		p.notifier.post(SeekDone{Position: p.seekPos})
	}
	if p.State() == StateBuffering {
		p.setState(p.target)
	}
}

func (p *Player) drained() {
	if p.State() != StatePlaying {
		p.drainPending = p.epoch.Load() + 1
		return
	}
	p.complete()
}

func (p *Player) complete() {
	if p.loop.Load() {
		p.log.Info("end of stream, looping")
		if err := p.restart(0, false, StatePlaying); err != nil {
			p.fail(CodeIO, err)
		}
		return
	}
	p.log.Info("end of stream")
	p.haltIO()
	p.notifier.post(PlayEnd{})
	p.setState(StateCompleted)
}

// begin opens the first playlist item and starts buffering towards target.
func (p *Player) begin(target State) error {
	if err := p.io.Open(); err != nil {
		p.fail(CodeIO, err)
		return err
	}
	p.opened = true
	p.target = target
	p.setState(StateBuffering)
	p.resumeIO()
	return nil
}

// restart repositions to t and buffers towards target.
func (p *Player) restart(t time.Duration, accurate bool, target State) error {
	if !p.opened {
		return p.begin(target)
	}
	if _, err := p.reposition(t, accurate); err != nil {
		p.fail(CodeIO, err)
		return err
	}
	p.target = target
	p.setState(StateBuffering)
	p.resumeIO()
	return nil
}

func (p *Player) prepare() error {
	switch p.State() {
	case StateInitializing:
		return p.begin(StateReady)
	case StateStop, StateError, StateCompleted:
		return p.restart(0, false, StateReady)
	}
	return nil
}

func (p *Player) play() error {
	switch p.State() {
	case StateInitializing:
		return p.begin(StatePlaying)
	case StateStop, StateError, StateCompleted:
		return p.restart(0, false, StatePlaying)
	case StateBuffering:
		p.target = StatePlaying
	case StateReady, StatePause:
		p.setState(StatePlaying)
	}
	return nil
}

func (p *Player) pause() error {
	if p.State() == StatePlaying {
		p.setState(StatePause)
	}
	return nil
}

func (p *Player) stop() error {
	if p.State() == StateStop {
		return nil
	}
	p.seeking = false
	if p.opened {
		if _, err := p.reposition(0, false); err != nil {
			p.log.Warn("rewind on stop failed", "error", err)
		}
	}
	p.setState(StateStop)
	return nil
}

func (p *Player) seek(t time.Duration, accurate bool) error {
	st := p.State()
	target := st
	switch st {
	case StateBuffering:
		target = p.target
	case StateReady, StatePlaying, StatePause:
	case StateCompleted:
		target = StateReady
	default:
		return fmt.Errorf("%w: seek while %s", ErrInvalidState, st)
	}

	p.demuxMu.Lock()
	probed := p.demux != nil
	p.demuxMu.Unlock()
	if !probed {
		return ErrNotReady
	}

	t = max(t, 0)
	at, err := p.reposition(t, accurate)
	if err != nil {
		p.fail(CodeIO, err)
		return err
	}
	p.metrics.RecordSeek()
	p.log.Info("seek", "target", t, "accurate", accurate, "position", at)
	p.seeking = true
	p.seekPos = at
	p.target = target
	p.setState(StateBuffering)
	p.resumeIO()
	return nil
}

func (p *Player) open(paths []string) error {
	p.haltIO()
	p.io.SetPaths(paths)

	p.demuxMu.Lock()
	p.decodeMu.Lock()
	p.renderMu.Lock()
	p.epoch.Add(1)
	p.demux = nil
	p.probe = nil
	p.probeWant = 0
	p.skip = 0
	p.halted = false
	dropped := p.rawQ.Clear() + p.audioQ.Clear() + p.videoQ.Clear()
	if err := p.dec.Close(); err != nil {
		p.log.Warn("closing decoder", "error", err)
	}
	p.left.Reset()
	p.clock.SetSource(clock.SourceAudio)
	p.clock.Set(0)
	p.renderMu.Unlock()
	p.decodeMu.Unlock()
	p.demuxMu.Unlock()

	p.cache.Release()
	p.flushRenderers()
	p.metrics.RecordDropped("flush", dropped)

	p.infoMu.Lock()
	p.info = media.StreamInfo{}
	p.infoMu.Unlock()
	p.opened = false
	p.seeking = false
	p.log.Info("playlist opened", "items", len(paths))
	p.setState(StateInitializing)
	return nil
}

// reposition pauses I/O, moves it to the byte offset for t and starts a new
// epoch with every queue and the decoder flushed. The epoch becomes current
// here, after the I/O seek returns, so no chunk read before the seek can be
// tagged with it. I/O is left paused.
func (p *Player) reposition(t time.Duration, accurate bool) (time.Duration, error) {
	p.haltIO()

	p.demuxMu.Lock()
	d := p.demux
	p.demuxMu.Unlock()

	var (
		off int64
		at  time.Duration
	)
	if d != nil {
		off, at = d.SeekOffset(t, accurate)
		if accurate {
			at = t
		}
	}
	seekErr := p.io.Seek(off)

	p.demuxMu.Lock()
	p.decodeMu.Lock()
	p.renderMu.Lock()
	epoch := p.epoch.Add(1)
	if d != nil {
		d.Reset(off)
	} else {
		p.probe = nil
		p.probeWant = 0
		p.skip = 0
	}
	p.halted = false
	dropped := p.rawQ.Clear() + p.audioQ.Clear() + p.videoQ.Clear()
	p.dec.Reset()
	p.trimTo, p.trimEpoch = at, epoch+1
	p.left.Reset()
	p.leftEpoch = epoch
	p.clock.Set(at)
	p.renderMu.Unlock()
	p.decodeMu.Unlock()
	p.demuxMu.Unlock()

	p.cache.Release()
	p.flushRenderers()
	p.metrics.RecordDropped("flush", dropped)
	p.log.Debug("repositioned", "target", t, "position", at, "offset", off, "epoch", epoch)
	if seekErr != nil {
		return at, fmt.Errorf("player: seeking to %v: %w", t, seekErr)
	}
	return at, nil
}

func (p *Player) flushRenderers() {
	if p.audioOpen {
		p.audio.Flush()
	}
	if p.videoOpen {
		p.video.Flush()
	}
}

// shutdown runs on the control goroutine as the last command.
func (p *Player) shutdown() error {
	p.closed = true
	p.haltIO()
	from := p.State()
	ioErr := p.io.Close()
	p.decodeW.Stop()

	p.decodeMu.Lock()
	decErr := p.dec.Close()
	p.decodeMu.Unlock()

	var renderErr error
	if p.audioOpen {
		p.audio.Stop()
	}
	renderErr = p.audio.Close()
	if p.video != nil {
		if err := p.video.Close(); err != nil && renderErr == nil {
			renderErr = err
		}
	}
	p.rawQ.Clear()
	p.audioQ.Clear()
	p.videoQ.Clear()
	p.log.Info("closed", "state", from)

	for _, err := range []error{ioErr, decErr, renderErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
