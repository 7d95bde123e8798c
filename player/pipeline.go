package player

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/ioman"
	"github.com/zsiec/reel/internal/queue"
	"github.com/zsiec/reel/internal/ringbuf"
	"github.com/zsiec/reel/media"
)

// ErrRead is reported when the active I/O handler fails.
var ErrRead = errors.New("player: read failed")

// maxProbeSize bounds how much data detection may accumulate while a
// container header keeps reporting truncation.
const maxProbeSize = 1 << 20

// onData is the I/O callback. It runs on the handler's goroutine, probes
// the container on the first bytes and feeds the demuxer afterwards.
func (p *Player) onData(data []byte, _ int64, state ioman.IOState) {
	p.demuxMu.Lock()
	defer p.demuxMu.Unlock()

	epoch := p.epoch.Load()
	p.metrics.RecordRead(len(data))
	if p.halted {
		return
	}
	if state == ioman.Error {
		p.halted = true
		p.postError(epoch, CodeIO, ErrRead)
		return
	}
	eof := state == ioman.EndOfFile

	if p.demux == nil {
		p.probe = append(p.probe, data...)
		if len(p.probe) < max(p.probeSize, p.probeWant) && !eof {
			return
		}
		d, format, start, err := p.demuxers.Detect(p.probe, p.log)
		if err != nil {
			if errors.Is(err, demux.ErrTruncated) && !eof && len(p.probe) < maxProbeSize {
				p.probeWant = min(2*len(p.probe), maxProbeSize)
				p.log.Debug("container header truncated, probing further", "have", len(p.probe), "want", p.probeWant)
				return
			}
			p.halted = true
			p.probe = nil
			p.probeWant = 0
			p.postError(epoch, CodeDemux, err)
			return
		}
		p.probeWant = 0
		p.demux = d
		p.log.Info("container detected", "format", format, "data_start", start)
		p.post(pipeEvent{kind: evInfo, epoch: epoch, info: d.Info()})

		if start <= int64(len(p.probe)) {
			data = p.probe[start:]
		} else {
			p.skip = start - int64(len(p.probe))
			data = nil
		}
		p.probe = nil
	} else if p.skip > 0 {
		n := min(p.skip, int64(len(data)))
		data = data[n:]
		p.skip -= n
	}

	st, frames := p.demux.ParseData(data)
	if eof && st == demux.Success {
		frames = append(frames, p.demux.Flush()...)
		st = demux.FileEnd
	}
	for _, f := range frames {
		f.Epoch = epoch
		p.metrics.RecordDemuxed(f.Type().String())
	}
	if len(frames) > 0 {
		p.rawQ.PushAll(frames)
		p.decodeW.Notify()
	}

	switch st {
	case demux.Failed:
		p.halted = true
		p.postError(epoch, CodeDemux, fmt.Errorf("player: demuxing: %w", demuxErr(p.demux)))
	case demux.FileEnd:
		if p.rawEOS.Load() != epoch+1 {
			p.log.Debug("demux reached end of stream", "epoch", epoch)
			p.rawEOS.Store(epoch + 1)
			p.decodeW.Notify()
		}
	}
}

func demuxErr(d demux.Demuxer) error {
	if e, ok := d.(interface{ Err() error }); ok && e.Err() != nil {
		return e.Err()
	}
	return errors.New("malformed stream")
}

// decodeStep is the decode worker's unit of work: submit every raw frame of
// the current epoch and route finished frames to the decoded queues.
func (p *Player) decodeStep() bool {
	p.decodeMu.Lock()
	defer p.decodeMu.Unlock()

	epoch := p.epoch.Load()
	progressed := false
	for _, f := range p.rawQ.Detach() {
		progressed = true
		if f.Epoch != epoch {
			f.Release()
			p.metrics.RecordDropped("stale", 1)
			continue
		}
		if err := p.dec.Submit(f); err != nil {
			p.metrics.RecordDropped("rejected", 1)
			p.postError(epoch, CodeDecode, err)
		}
	}

	results := p.dec.Drain()
	eos := false
	if p.rawEOS.Load() == epoch+1 && p.decEOSEpoch != epoch+1 && p.rawQ.Len() == 0 {
		results = append(results, p.dec.Flush()...)
		p.decEOSEpoch = epoch + 1
		eos = true
	}
	for _, r := range results {
		progressed = true
		p.route(epoch, r)
	}
	if eos {
		progressed = true
		p.decodedEOS.Store(epoch + 1)
		if p.readyEpoch != epoch+1 {
			// Nothing decodable in this epoch, so no renderer will ever
			// observe the end.
			p.readyEpoch = epoch + 1
			p.post(pipeEvent{kind: evBuffered, epoch: epoch})
			p.post(pipeEvent{kind: evDrained, epoch: epoch})
		}
	}
	p.metrics.SetInFlight(p.dec.InFlight())
	return progressed
}

func (p *Player) route(epoch uint64, r decode.Result) {
	if r.Err != nil {
		p.postError(epoch, CodeDecode, r.Err)
		return
	}
	out := r.Out
	if out == nil {
		return
	}
	if out.Epoch != epoch {
		out.Release()
		p.metrics.RecordDropped("stale", 1)
		return
	}
	// Frames that fell entirely inside the decoder's pre-skip.
	if out.Type() == media.MediaAudio && len(out.Data) == 0 {
		out.Release()
		p.metrics.RecordDropped("empty", 1)
		return
	}
	if p.trimEpoch == epoch+1 && !trimFront(out, p.trimTo) {
		out.Release()
		p.metrics.RecordDropped("seek", 1)
		return
	}
	p.metrics.RecordDecoded(out.Type().String())

	if a, ok := out.Audio(); ok && a != p.postedAudio {
		p.postedAudio = a
		p.post(pipeEvent{kind: evAudioFormat, epoch: epoch, audio: a})
	}
	switch out.Type() {
	case media.MediaAudio:
		p.audioQ.Push(out)
	case media.MediaVideo:
		p.videoQ.Push(out)
	}
	if p.readyEpoch != epoch+1 {
		p.readyEpoch = epoch + 1
		p.post(pipeEvent{kind: evBuffered, epoch: epoch})
	}
}

// trimFront cuts the part of f that precedes t. It reports false when
// nothing of f remains. A video frame spanning t is kept whole.
func trimFront(f *media.Frame, t time.Duration) bool {
	start := f.PTSTime()
	if t <= 0 || start >= t {
		return true
	}
	if start+f.DurationTime() <= t {
		return false
	}
	a, ok := f.Audio()
	if !ok || a.SampleRate <= 0 || a.BlockAlign() <= 0 {
		return true
	}
	ticks := media.DurationToTicks(t, f.Timescale) - f.PTS
	cut := int(ticks*int64(a.SampleRate)/f.Timescale) * a.BlockAlign()
	if cut >= len(f.Data) {
		return false
	}
	f.Data = f.Data[cut:]
	f.PTS += ticks
	f.DTS = f.PTS
	f.Duration -= ticks
	return true
}

// ReadAudio fills buf with decoded PCM for the audio renderer and advances
// the clock by what it delivered. It returns 0 unless the player is
// Playing. It must only be called from one goroutine.
func (p *Player) ReadAudio(buf []byte) int {
	if p.State() != StatePlaying {
		return 0
	}
	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	epoch := p.epoch.Load()
	if p.leftEpoch != epoch {
		p.left.Reset()
		p.leftEpoch = epoch
	}

	n := p.left.Read(buf)
	for n < len(buf) {
		f, ok := p.audioQ.Pop()
		if !ok {
			break
		}
		if f.Epoch != epoch {
			f.Release()
			p.metrics.RecordDropped("stale", 1)
			continue
		}
		if a, ok := f.Audio(); ok {
			p.leftBPS = a.BytesPerSecond()
		}
		c := copy(buf[n:], f.Data)
		n += c
		if rest := f.Data[c:]; len(rest) > 0 {
			if len(rest) > p.left.Free() {
				p.left = ringbuf.New[byte](2 * len(rest))
			}
			p.left.Write(rest)
		}
		p.metrics.RecordRendered("audio")
		if p.firstEpoch != epoch+1 {
			p.firstEpoch = epoch + 1
			p.post(pipeEvent{kind: evFirstFrame, epoch: epoch, media: media.MediaAudio})
		}
	}
	p.clock.AdvanceBytes(n, p.leftBPS)

	if n < len(buf) && p.decodedEOS.Load() == epoch+1 && p.drainEpoch != epoch+1 {
		p.drainEpoch = epoch + 1
		p.post(pipeEvent{kind: evDrained, epoch: epoch})
	}
	return n
}

// NextVideoFrame returns the video frame due at the current clock time, if
// any. Frames that fell behind are dropped. The caller owns the frame and
// must Release it.
func (p *Player) NextVideoFrame() (*media.Frame, bool) {
	if p.State() != StatePlaying {
		return nil, false
	}
	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	epoch := p.epoch.Load()
	now := p.clock.Now()
	var due *media.Frame
	for {
		f, ok := p.videoQ.Front()
		if !ok {
			break
		}
		if f.Epoch != epoch {
			p.videoQ.Pop()
			f.Release()
			p.metrics.RecordDropped("stale", 1)
			continue
		}
		if !clock.VideoDue(f.PTSTime(), now, p.videoTolerance) {
			break
		}
		p.videoQ.Pop()
		if due != nil {
			due.Release()
			p.metrics.RecordDropped("late", 1)
		}
		due = f
	}

	if due != nil {
		p.metrics.RecordRendered("video")
		if p.firstEpoch != epoch+1 {
			p.firstEpoch = epoch + 1
			p.post(pipeEvent{kind: evFirstFrame, epoch: epoch, media: media.MediaVideo})
		}
		return due, true
	}
	if !p.Info().HasAudio && p.videoQ.Len() == 0 && p.decodedEOS.Load() == epoch+1 && p.drainEpoch != epoch+1 {
		p.drainEpoch = epoch + 1
		p.post(pipeEvent{kind: evDrained, epoch: epoch})
	}
	return nil, false
}

// onQueueChange re-evaluates admission after every queue mutation.
func (p *Player) onQueueChange(queue.Stats) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache.Update(p.rawQ.Duration() + p.audioQ.Duration() + p.videoQ.Duration())
}

func (p *Player) onCachePause() {
	p.metrics.RecordIOPause()
	p.log.Debug("cache full, pausing reads")
	p.syncIO()
}

func (p *Player) onCacheResume() {
	p.metrics.RecordIOResume()
	p.log.Debug("cache drained, resuming reads")
	p.syncIO()
}

// syncIO applies the combined control and cache decision to the I/O
// manager. It reads the current decision rather than acting on the
// transition, so callbacks racing from different goroutines converge.
func (p *Player) syncIO() {
	p.ioMu.Lock()
	defer p.ioMu.Unlock()
	if p.ioActive.Load() && !p.cache.Paused() {
		p.io.Resume()
	} else {
		p.io.Pause()
	}
}

func (p *Player) haltIO() {
	p.ioMu.Lock()
	p.ioActive.Store(false)
	p.io.Pause()
	p.ioMu.Unlock()
}

func (p *Player) resumeIO() {
	p.ioActive.Store(true)
	p.syncIO()
}

// reportCache runs on the notifier worker's timer.
func (p *Player) reportCache() {
	switch p.State() {
	case StateBuffering, StateReady, StatePlaying, StatePause:
	default:
		return
	}
	c := p.CacheTime()
	p.metrics.SetCache(p.id, c.Seconds())
	if c != p.lastCache {
		p.lastCache = c
		p.notifier.post(CacheTimeUpdate{Cached: c})
	}
}
