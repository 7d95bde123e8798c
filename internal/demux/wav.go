package demux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/reel/media"
)

// SamplesPerFrame is the number of samples (per channel) in each WAV frame.
const SamplesPerFrame = 2048

// wavProbeSize covers the RIFF header plus typical fmt, fact and LIST chunks.
const wavProbeSize = 4096

const (
	wavFormatPCM        = 0x0001
	wavFormatFloat      = 0x0003
	wavFormatExtensible = 0xFFFE
)

// unknownDataSize marks a data chunk whose length is not known up front,
// as written by streaming encoders.
const unknownDataSize = -1

// WAV parses RIFF/WAVE files carrying PCM or IEEE float samples.
type WAV struct {
	log    *slog.Logger
	err    error
	opened bool

	audio      media.AudioInfo
	info       media.StreamInfo
	blockAlign int
	frameBytes int
	dataStart  int64
	dataSize   int64

	overflow []byte
	received int64 // bytes of the data chunk consumed so far
	sample   int64 // pts of the next frame
	ended    bool
}

// NewWAV creates an unopened WAV parser. If log is nil, slog.Default() is used.
func NewWAV(log *slog.Logger) *WAV {
	if log == nil {
		log = slog.Default()
	}
	return &WAV{log: log.With("component", "demux", "format", FormatWAV)}
}

// ProbeSize implements Demuxer.
func (w *WAV) ProbeSize() int { return wavProbeSize }

// Err returns the reason the last Open failed.
func (w *WAV) Err() error { return w.err }

// Info implements Demuxer.
func (w *WAV) Info() media.StreamInfo { return w.info }

// Open implements Demuxer.
func (w *WAV) Open(probe []byte) (bool, int64) {
	start, err := w.parseHeader(probe)
	if err != nil {
		w.err = err
		w.opened = false
		w.log.Debug("rejecting header", "error", err)
		return false, 0
	}
	w.err = nil
	w.opened = true
	w.dataStart = start
	w.Reset(start)
	w.log.Info("opened",
		"sample_rate", w.audio.SampleRate,
		"channels", w.audio.Channels,
		"format", w.audio.Format,
		"duration", w.info.Duration)
	return true, start
}

func (w *WAV) headerErr(field string, err error) error {
	return &HeaderError{Format: FormatWAV, Field: field, Err: err}
}

func (w *WAV) parseHeader(b []byte) (int64, error) {
	if len(b) < 12 {
		return 0, w.headerErr("riff", ErrTruncated)
	}
	if !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return 0, w.headerErr("riff", ErrBadMagic)
	}

	haveFmt := false
	pos := 12
	for {
		if len(b)-pos < 8 {
			return 0, w.headerErr("chunk", ErrTruncated)
		}
		id := string(b[pos : pos+4])
		size := int64(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || int64(len(b)-body) < size {
				return 0, w.headerErr("fmt", ErrTruncated)
			}
			if err := w.parseFmt(b[body : body+int(size)]); err != nil {
				return 0, err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return 0, w.headerErr("data", fmt.Errorf("%w: data before fmt", ErrUnsupported))
			}
			w.setDataSize(size)
			return int64(body), nil
		}

		next := int64(body) + size + size&1
		if next > int64(len(b)) {
			return 0, w.headerErr(fmt.Sprintf("chunk %q", id), ErrTruncated)
		}
		pos = int(next)
	}
}

func (w *WAV) parseFmt(c []byte) error {
	tag := binary.LittleEndian.Uint16(c[0:2])
	channels := int(binary.LittleEndian.Uint16(c[2:4]))
	rate := int(binary.LittleEndian.Uint32(c[4:8]))
	bits := int(binary.LittleEndian.Uint16(c[14:16]))

	if tag == wavFormatExtensible {
		if len(c) < 26 {
			return w.headerErr("fmt", fmt.Errorf("%w: short extensible fmt", ErrTruncated))
		}
		// The sub-format GUID starts with the plain format tag.
		tag = binary.LittleEndian.Uint16(c[24:26])
	}

	var format media.SampleFormat
	switch {
	case tag == wavFormatPCM && bits == 8:
		format = media.SampleU8
	case tag == wavFormatPCM && bits == 16:
		format = media.SampleS16
	case tag == wavFormatPCM && bits == 24:
		format = media.SampleS24
	case tag == wavFormatPCM && bits == 32:
		format = media.SampleS32
	case tag == wavFormatFloat && bits == 32:
		format = media.SampleF32
	default:
		return w.headerErr("fmt", fmt.Errorf("%w: format tag %#04x with %d bits", ErrUnsupported, tag, bits))
	}
	if channels != 1 && channels != 2 {
		return w.headerErr("fmt", fmt.Errorf("%w: %d channels", ErrUnsupported, channels))
	}
	if rate <= 0 {
		return w.headerErr("fmt", fmt.Errorf("%w: sample rate %d", ErrUnsupported, rate))
	}

	w.audio = media.AudioInfo{
		Codec:         media.CodecPCM,
		Format:        format,
		SampleRate:    rate,
		Channels:      channels,
		BitsPerSample: bits,
	}
	w.blockAlign = w.audio.BlockAlign()
	w.frameBytes = SamplesPerFrame * w.blockAlign
	return nil
}

func (w *WAV) setDataSize(size int64) {
	if size == 0 || size == 0xFFFFFFFF {
		w.dataSize = unknownDataSize
	} else {
		w.dataSize = size - size%int64(w.blockAlign)
	}
	w.info = media.StreamInfo{HasAudio: true, Audio: w.audio}
	if w.dataSize > 0 {
		samples := w.dataSize / int64(w.blockAlign)
		w.info.Duration = media.TicksToDuration(samples, int64(w.audio.SampleRate))
	}
}

// ParseData implements Demuxer.
func (w *WAV) ParseData(chunk []byte) (State, []*media.Frame) {
	if !w.opened {
		return Failed, nil
	}
	if w.ended {
		return FileEnd, nil
	}

	if w.dataSize != unknownDataSize {
		// Bytes past the data chunk belong to trailing metadata chunks.
		if rem := w.dataSize - w.received; int64(len(chunk)) > rem {
			chunk = chunk[:rem]
		}
	}
	w.received += int64(len(chunk))
	w.overflow = append(w.overflow, chunk...)

	var frames []*media.Frame
	for len(w.overflow) >= w.frameBytes {
		frames = append(frames, w.frame(w.overflow[:w.frameBytes]))
		w.overflow = w.overflow[w.frameBytes:]
	}
	if len(w.overflow) == 0 {
		w.overflow = nil
	}

	if w.dataSize != unknownDataSize && w.received >= w.dataSize {
		frames = append(frames, w.Flush()...)
		return FileEnd, frames
	}
	return Success, frames
}

// Flush implements Demuxer. It emits the buffered remainder, rounded down to
// a whole number of samples, as one partial frame.
func (w *WAV) Flush() []*media.Frame {
	w.ended = true
	n := len(w.overflow) - len(w.overflow)%max(w.blockAlign, 1)
	var frames []*media.Frame
	if n > 0 {
		frames = append(frames, w.frame(w.overflow[:n]))
	}
	w.overflow = nil
	return frames
}

func (w *WAV) frame(data []byte) *media.Frame {
	samples := int64(len(data) / w.blockAlign)
	f := &media.Frame{
		PTS:       w.sample,
		DTS:       w.sample,
		Duration:  samples,
		Timescale: int64(w.audio.SampleRate),
		Data:      append([]byte(nil), data...),
		Info:      w.audio,
	}
	w.sample += samples
	return f
}

// SeekOffset implements Demuxer. Offsets land on frame boundaries; callers
// wanting sample accuracy trim the leading samples of the first frame.
func (w *WAV) SeekOffset(t time.Duration, accurate bool) (int64, time.Duration) {
	if w.blockAlign == 0 {
		return 0, 0
	}
	if t < 0 {
		t = 0
	}
	rate := int64(w.audio.SampleRate)
	sample := media.DurationToTicks(t, rate)
	sample -= sample % SamplesPerFrame
	if w.dataSize != unknownDataSize {
		last := w.dataSize / int64(w.blockAlign)
		if sample > last {
			sample = last - last%SamplesPerFrame
		}
	}
	return w.dataStart + sample*int64(w.blockAlign), media.TicksToDuration(sample, rate)
}

// Reset implements Demuxer.
func (w *WAV) Reset(offset int64) {
	w.overflow = nil
	w.ended = false
	rel := max(offset-w.dataStart, 0)
	if w.blockAlign > 0 {
		rel -= rel % int64(w.blockAlign)
		w.sample = rel / int64(w.blockAlign)
	}
	w.received = rel
}
