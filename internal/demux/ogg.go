package demux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/reel/media"
)

// FormatOggOpus is Opus audio in an Ogg container.
const FormatOggOpus Format = "ogg-opus"

// opusTimescale is the fixed Opus timestamp rate.
const opusTimescale = 48000

const (
	oggHeaderSize = 27
	oggFlagEOS    = 0x04
	oggProbeSize  = 4096
)

// OggOpus parses single-stream Ogg files carrying Opus. Ogg has no index,
// so seeking restarts at the first audio page and reports the requested
// time; the player discards frames before it.
//
// Timestamps start at minus the header's pre-skip, so the first sample a
// decoder should play lands on 0.
type OggOpus struct {
	log    *slog.Logger
	err    error
	opened bool

	audio     media.AudioInfo
	preSkip   int
	dataStart int64

	buf    []byte // unparsed page bytes
	packet []byte // packet continued across pages
	sample int64
	ended  bool
}

// NewOggOpus creates an unopened Ogg/Opus parser.
func NewOggOpus(log *slog.Logger) *OggOpus {
	if log == nil {
		log = slog.Default()
	}
	return &OggOpus{log: log.With("component", "demux", "format", FormatOggOpus)}
}

func (o *OggOpus) ProbeSize() int { return oggProbeSize }

func (o *OggOpus) Err() error { return o.err }

func (o *OggOpus) Info() media.StreamInfo {
	return media.StreamInfo{HasAudio: o.opened, Audio: o.audio}
}

type oggPage struct {
	flags    byte
	segments []byte
	body     []byte
	size     int
}

// readPage parses the page at the start of b. It returns ok=false when b
// does not hold a whole page yet.
func readPage(b []byte) (oggPage, bool, error) {
	if len(b) < oggHeaderSize {
		return oggPage{}, false, nil
	}
	if !bytes.Equal(b[:4], []byte("OggS")) {
		return oggPage{}, false, ErrBadMagic
	}
	if b[4] != 0 {
		return oggPage{}, false, fmt.Errorf("%w: ogg version %d", ErrUnsupported, b[4])
	}
	n := int(b[26])
	if len(b) < oggHeaderSize+n {
		return oggPage{}, false, nil
	}
	segments := b[oggHeaderSize : oggHeaderSize+n]
	bodyLen := 0
	for _, s := range segments {
		bodyLen += int(s)
	}
	end := oggHeaderSize + n + bodyLen
	if len(b) < end {
		return oggPage{}, false, nil
	}
	return oggPage{
		flags:    b[5],
		segments: segments,
		body:     b[oggHeaderSize+n : end],
		size:     end,
	}, true, nil
}

func (o *OggOpus) Open(probe []byte) (bool, int64) {
	page, ok, err := readPage(probe)
	if err == nil && !ok {
		err = ErrTruncated
	}
	if err == nil {
		err = o.parseHead(page.body)
	}
	if err != nil {
		o.err = &HeaderError{Format: FormatOggOpus, Field: "OpusHead", Err: err}
		o.opened = false
		return false, 0
	}
	o.err = nil
	o.opened = true
	o.dataStart = int64(page.size)
	o.Reset(o.dataStart)
	o.log.Info("opened", "channels", o.audio.Channels, "pre_skip", o.preSkip)
	return true, o.dataStart
}

func (o *OggOpus) parseHead(p []byte) error {
	if len(p) < 19 || !bytes.Equal(p[:8], []byte("OpusHead")) {
		return ErrBadMagic
	}
	channels := int(p[9])
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupported, channels)
	}
	if family := p[18]; family != 0 {
		return fmt.Errorf("%w: channel mapping family %d", ErrUnsupported, family)
	}
	o.preSkip = int(binary.LittleEndian.Uint16(p[10:12]))
	o.audio = media.AudioInfo{
		Codec:      media.CodecOpus,
		SampleRate: opusTimescale,
		Channels:   channels,
	}
	return nil
}

func (o *OggOpus) ParseData(chunk []byte) (State, []*media.Frame) {
	if !o.opened {
		return Failed, nil
	}
	if o.ended {
		return FileEnd, nil
	}
	o.buf = append(o.buf, chunk...)

	var frames []*media.Frame
	for {
		page, ok, err := readPage(o.buf)
		if err != nil {
			o.log.Warn("corrupt page", "error", err)
			return Failed, frames
		}
		if !ok {
			break
		}
		frames = append(frames, o.packets(page)...)
		o.buf = o.buf[page.size:]
		if page.flags&oggFlagEOS != 0 {
			o.ended = true
			o.buf = nil
			return FileEnd, frames
		}
	}
	if len(o.buf) == 0 {
		o.buf = nil
	}
	return Success, frames
}

// packets splits a page body along its lacing values. A segment of 255
// bytes continues the packet.
func (o *OggOpus) packets(p oggPage) []*media.Frame {
	var frames []*media.Frame
	pos := 0
	for _, seg := range p.segments {
		o.packet = append(o.packet, p.body[pos:pos+int(seg)]...)
		pos += int(seg)
		if seg == 255 {
			continue
		}
		pkt := o.packet
		o.packet = nil
		if len(pkt) == 0 || bytes.HasPrefix(pkt, []byte("OpusTags")) {
			continue
		}
		dur := opusPacketSamples(pkt)
		frames = append(frames, &media.Frame{
			PTS:       o.sample,
			DTS:       o.sample,
			Duration:  dur,
			Timescale: opusTimescale,
			Data:      pkt,
			Info:      o.audio,
		})
		o.sample += dur
	}
	return frames
}

// opusPacketSamples returns the packet duration in 48 kHz samples from its
// TOC byte and frame count code.
func opusPacketSamples(p []byte) int64 {
	if len(p) == 0 {
		return 0
	}
	config := p[0] >> 3
	var per int64
	switch {
	case config < 12: // SILK
		per = [4]int64{480, 960, 1920, 2880}[config%4]
	case config < 16: // hybrid
		per = [2]int64{480, 960}[config%2]
	default: // CELT
		per = [4]int64{120, 240, 480, 960}[config%4]
	}
	switch p[0] & 3 {
	case 0:
		return per
	case 1, 2:
		return 2 * per
	default:
		if len(p) < 2 {
			return 0
		}
		return int64(p[1]&0x3f) * per
	}
}

// Flush drops a packet left incomplete by a truncated file.
func (o *OggOpus) Flush() []*media.Frame {
	o.ended = true
	o.buf = nil
	o.packet = nil
	return nil
}

func (o *OggOpus) SeekOffset(t time.Duration, _ bool) (int64, time.Duration) {
	return o.dataStart, max(t, 0)
}

func (o *OggOpus) Reset(offset int64) {
	o.buf = nil
	o.packet = nil
	o.ended = false
	o.sample = -int64(o.preSkip)
}
