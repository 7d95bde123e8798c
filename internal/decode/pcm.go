package decode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zsiec/reel/media"
)

// PCM converts every supported WAV sample format to interleaved S16LE.
type PCM struct {
	cfg  media.AudioInfo
	open bool
}

// NewPCM returns an unopened PCM decoder.
func NewPCM() *PCM { return &PCM{} }

func (d *PCM) Open(cfg Config) error {
	if cfg.Audio.Format.BytesPerSample() == 0 {
		return fmt.Errorf("%w: pcm sample format %s", ErrUnsupportedCodec, cfg.Audio.Format)
	}
	d.cfg = cfg.Audio
	d.open = true
	return nil
}

func (d *PCM) SetCompletion(CompletionFunc) {}

func (d *PCM) Decode(in *media.Frame) (*media.Frame, error) {
	if !d.open {
		return nil, ErrClosed
	}
	src, ok := in.Audio()
	if !ok {
		return nil, fmt.Errorf("decode: pcm got %s frame", in.Type())
	}
	width := src.Format.BytesPerSample()
	if width == 0 {
		return nil, fmt.Errorf("%w: pcm sample format %s", ErrUnsupportedCodec, src.Format)
	}

	n := len(in.Data) / width
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := in.Data[i*width : (i+1)*width]
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toS16(src.Format, s)))
	}

	info := src
	info.Format = media.SampleS16
	info.BitsPerSample = 16
	return &media.Frame{
		PTS:       in.PTS,
		DTS:       in.DTS,
		Duration:  in.Duration,
		Timescale: in.Timescale,
		Data:      out,
		Info:      info,
		Epoch:     in.Epoch,
	}, nil
}

func toS16(f media.SampleFormat, s []byte) int16 {
	switch f {
	case media.SampleU8:
		return int16(int(s[0])-128) << 8
	case media.SampleS16:
		return int16(binary.LittleEndian.Uint16(s))
	case media.SampleS24:
		return int16(uint16(s[1]) | uint16(s[2])<<8)
	case media.SampleS32:
		return int16(uint16(s[2]) | uint16(s[3])<<8)
	case media.SampleF32:
		v := math.Float32frombits(binary.LittleEndian.Uint32(s))
		if v >= 1 {
			return math.MaxInt16
		}
		if v <= -1 {
			return math.MinInt16
		}
		return int16(v * math.MaxInt16)
	default:
		return 0
	}
}

func (d *PCM) Flush() {}
func (d *PCM) Reset() {}

func (d *PCM) Close() error {
	d.open = false
	return nil
}
