// Package device plays audio on the system's default output through
// miniaudio. It requires cgo.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/zsiec/reel/internal/render"
	"github.com/zsiec/reel/media"
)

var ErrNotOpen = errors.New("device: not open")

type gain struct {
	volume float64
	mute   bool
}

// Audio is a playback device. miniaudio calls onData on its own thread,
// which pulls from the player.
type Audio struct {
	log *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	running bool

	pull atomic.Pointer[func([]byte) int]
	gain atomic.Pointer[gain]
}

// New creates an unopened device output. If log is nil, slog.Default() is
// used.
func New(log *slog.Logger) *Audio {
	if log == nil {
		log = slog.Default()
	}
	a := &Audio{log: log.With("component", "render", "output", "device")}
	a.gain.Store(&gain{volume: 1})
	return a
}

// Open implements player.AudioRenderer. Reopening with a new format
// replaces the device.
func (a *Audio) Open(info media.AudioInfo, pull func([]byte) int) error {
	if err := render.CheckFormat(info); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
			a.log.Debug("miniaudio", "msg", msg)
		})
		if err != nil {
			return fmt.Errorf("device: initialising audio context: %w", err)
		}
		a.ctx = ctx
	}
	if a.dev != nil {
		a.dev.Uninit()
		a.dev = nil
		a.running = false
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(info.Channels)
	cfg.SampleRate = uint32(info.SampleRate)
	cfg.Alsa.NoMMap = 1

	a.pull.Store(&pull)
	dev, err := malgo.InitDevice(a.ctx.Context, cfg, malgo.DeviceCallbacks{Data: a.onData})
	if err != nil {
		return fmt.Errorf("device: opening playback device: %w", err)
	}
	a.dev = dev
	a.log.Info("device opened", "rate", info.SampleRate, "channels", info.Channels)
	return nil
}

func (a *Audio) onData(out, _ []byte, _ uint32) {
	n := 0
	if pull := a.pull.Load(); pull != nil {
		n = (*pull)(out)
	}
	clear(out[n:])
	g := a.gain.Load()
	render.ApplyVolume(out[:n], g.volume, g.mute)
}

func (a *Audio) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil || a.running {
		return
	}
	if err := a.dev.Start(); err != nil {
		a.log.Warn("starting device", "error", err)
		return
	}
	a.running = true
}

func (a *Audio) Pause() { a.halt() }

func (a *Audio) Stop() { a.halt() }

func (a *Audio) halt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil || !a.running {
		return
	}
	if err := a.dev.Stop(); err != nil {
		a.log.Warn("stopping device", "error", err)
	}
	a.running = false
}

// Flush is a no-op; miniaudio holds no audio beyond the current period.
func (a *Audio) Flush() {}

func (a *Audio) SetVolume(v float64) {
	g := *a.gain.Load()
	g.volume = v
	a.gain.Store(&g)
}

func (a *Audio) SetMute(mute bool) {
	g := *a.gain.Load()
	g.mute = mute
	a.gain.Store(&g)
}

// Close releases the device and the audio context.
func (a *Audio) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		a.dev.Uninit()
		a.dev = nil
	}
	a.running = false
	if a.ctx == nil {
		return nil
	}
	err := a.ctx.Uninit()
	a.ctx.Free()
	a.ctx = nil
	if err != nil {
		return fmt.Errorf("device: releasing audio context: %w", err)
	}
	return nil
}
