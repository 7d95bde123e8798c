package player

import (
	"log/slog"
	"time"

	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/ioman"
	"github.com/zsiec/reel/internal/metrics"
)

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(p *Player) {
		if log != nil {
			p.log = log
		}
	}
}

// WithID sets the player id used in logs and metric labels. The default is
// a random UUID.
func WithID(id string) Option {
	return func(p *Player) {
		if id != "" {
			p.id = id
		}
	}
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// WithHandlerFactory sets how playlist items are opened. The default reads
// files, HTTP(S) URLs and SRT URLs.
func WithHandlerFactory(f ioman.HandlerFactory) Option {
	return func(p *Player) { p.factory = f }
}

// WithDemuxers sets the container registry used to probe resources.
func WithDemuxers(r *demux.Registry) Option {
	return func(p *Player) { p.demuxers = r }
}

// WithDecoders sets the codec registry.
func WithDecoders(r *decode.Registry) Option {
	return func(p *Player) { p.decoders = r }
}

// WithAudioRenderer sets the audio output. The default is a null renderer
// that consumes audio in real time without producing sound.
func WithAudioRenderer(r AudioRenderer) Option {
	return func(p *Player) { p.audio = r }
}

// WithVideoRenderer sets the video output. Without one, decoded video is
// only available through NextVideoFrame.
func WithVideoRenderer(r VideoRenderer) Option {
	return func(p *Player) { p.video = r }
}

// WithClock sets the wall time source.
func WithClock(now func() time.Time) Option {
	return func(p *Player) {
		if now != nil {
			p.now = now
		}
	}
}
