package decode

import (
	"fmt"

	"github.com/pion/opus"

	"github.com/zsiec/reel/media"
)

// maxOpusFrameBytes holds 120 ms of 48 kHz stereo S16 output, the longest
// packet Opus allows.
const maxOpusFrameBytes = 5760 * 2 * 2

// silkUpsample is the fixed factor pion/opus repeats each SILK sample by when
// producing S16 output. Wideband SILK (16 kHz) therefore comes out at 48 kHz.
const silkUpsample = 3

// Opus decodes Opus packets to S16LE with pion/opus. Input timestamps are
// in 48 kHz ticks. Samples before PTS 0, the stream's pre-skip, are
// discarded.
type Opus struct {
	dec  opus.Decoder
	buf  []byte
	open bool
}

// NewOpus returns an unopened Opus decoder.
func NewOpus() *Opus { return &Opus{} }

func (d *Opus) Open(cfg Config) error {
	if cfg.Audio.Channels > 2 {
		return fmt.Errorf("%w: opus with %d channels", ErrUnsupportedCodec, cfg.Audio.Channels)
	}
	d.dec = opus.NewDecoder()
	d.buf = make([]byte, maxOpusFrameBytes)
	d.open = true
	return nil
}

func (d *Opus) SetCompletion(CompletionFunc) {}

func (d *Opus) Decode(in *media.Frame) (*media.Frame, error) {
	if !d.open {
		return nil, ErrClosed
	}
	bandwidth, stereo, err := d.dec.Decode(in.Data, d.buf)
	if err != nil {
		return nil, fmt.Errorf("decode: opus: %w", err)
	}

	rate := bandwidth.SampleRate() * silkUpsample
	channels := 1
	if stereo {
		channels = 2
	}
	frameBytes := channels * 2
	samples := int64(0)
	if in.Timescale > 0 {
		samples = in.Duration * int64(rate) / in.Timescale
	}
	data := d.buf[:min(int(samples)*frameBytes, len(d.buf))]

	pts, dur := in.PTS, in.Duration
	if pts < 0 && in.Timescale > 0 {
		skip := min(-pts*int64(rate)/in.Timescale, samples)
		data = data[min(int(skip)*frameBytes, len(data)):]
		pts, dur = 0, max(dur+in.PTS, 0)
	}

	return &media.Frame{
		PTS:       pts,
		DTS:       pts,
		Duration:  dur,
		Timescale: in.Timescale,
		Data:      append([]byte(nil), data...),
		Info: media.AudioInfo{
			Codec:         media.CodecPCM,
			Format:        media.SampleS16,
			SampleRate:    rate,
			Channels:      channels,
			BitsPerSample: 16,
		},
		Epoch: in.Epoch,
	}, nil
}

func (d *Opus) Flush() {}

// Reset discards the inter-packet prediction state.
func (d *Opus) Reset() {
	if d.open {
		d.dec = opus.NewDecoder()
	}
}

func (d *Opus) Close() error {
	d.open = false
	d.buf = nil
	return nil
}
