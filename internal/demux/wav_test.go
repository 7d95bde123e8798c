package demux

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/media"
)

type wavSpec struct {
	tag      uint16
	channels int
	rate     int
	bits     int
	dataSize uint32
	extra    []byte // chunk inserted between fmt and data
}

func buildWAV(s wavSpec) []byte {
	block := s.channels * s.bits / 8
	var b []byte
	le32 := func(v uint32) { b = binary.LittleEndian.AppendUint32(b, v) }
	le16 := func(v uint16) { b = binary.LittleEndian.AppendUint16(b, v) }

	b = append(b, "RIFF"...)
	le32(36 + s.dataSize)
	b = append(b, "WAVEfmt "...)
	le32(16)
	le16(s.tag)
	le16(uint16(s.channels))
	le32(uint32(s.rate))
	le32(uint32(s.rate * block))
	le16(uint16(block))
	le16(uint16(s.bits))
	b = append(b, s.extra...)
	b = append(b, "data"...)
	le32(s.dataSize)
	return b
}

func monoS16(dataSize uint32) []byte {
	return buildWAV(wavSpec{tag: wavFormatPCM, channels: 1, rate: 44100, bits: 16, dataSize: dataSize})
}

func TestWAVOpenMinimalHeader(t *testing.T) {
	t.Parallel()
	w := NewWAV(nil)

	ok, start := w.Open(monoS16(10000))
	require.True(t, ok)
	assert.Equal(t, int64(44), start)

	info := w.Info()
	assert.True(t, info.HasAudio)
	assert.Equal(t, media.SampleS16, info.Audio.Format)
	assert.Equal(t, 44100, info.Audio.SampleRate)
	assert.Equal(t, 1, info.Audio.Channels)
	assert.Equal(t, media.TicksToDuration(5000, 44100), info.Duration)
}

func TestWAVParseOneFrameThenFinalShortChunk(t *testing.T) {
	t.Parallel()
	const frameBytes = SamplesPerFrame * 2
	w := NewWAV(nil)
	ok, _ := w.Open(monoS16(frameBytes + 100))
	require.True(t, ok)

	state, frames := w.ParseData(make([]byte, frameBytes))
	assert.Equal(t, Success, state)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Data, frameBytes)
	assert.Equal(t, int64(0), frames[0].PTS)
	assert.Equal(t, int64(SamplesPerFrame), frames[0].Duration)
	assert.Equal(t, int64(44100), frames[0].Timescale)
	assert.Empty(t, w.overflow, "an exact frame leaves no overflow")

	state, frames = w.ParseData(make([]byte, 100))
	assert.Equal(t, FileEnd, state)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Data, 100)
	assert.Equal(t, int64(SamplesPerFrame), frames[0].PTS)
	assert.Equal(t, int64(50), frames[0].Duration)

	state, frames = w.ParseData([]byte{1, 2})
	assert.Equal(t, FileEnd, state)
	assert.Empty(t, frames)
}

func TestWAVParseReentrantAcrossOddChunks(t *testing.T) {
	t.Parallel()
	const total = 3*SamplesPerFrame*4 + 8 // stereo 16-bit
	w := NewWAV(nil)
	ok, _ := w.Open(buildWAV(wavSpec{tag: wavFormatPCM, channels: 2, rate: 48000, bits: 16, dataSize: total}))
	require.True(t, ok)

	var all []*media.Frame
	var last State
	for fed := 0; fed < total; fed += 1000 {
		n := min(1000, total-fed)
		st, frames := w.ParseData(make([]byte, n))
		all = append(all, frames...)
		last = st
	}
	assert.Equal(t, FileEnd, last)
	require.Len(t, all, 4)
	for i, f := range all[:3] {
		assert.Equal(t, int64(i*SamplesPerFrame), f.PTS)
		assert.Len(t, f.Data, SamplesPerFrame*4)
	}
	assert.Equal(t, int64(2), all[3].Duration)
}

func TestWAVIgnoresTrailingChunks(t *testing.T) {
	t.Parallel()
	w := NewWAV(nil)
	ok, _ := w.Open(monoS16(10))
	require.True(t, ok)

	data := append(make([]byte, 10), "LIST\x04\x00\x00\x00abcd"...)
	state, frames := w.ParseData(data)
	assert.Equal(t, FileEnd, state)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Data, 10)
}

func TestWAVSkipsUnknownChunksWithPadding(t *testing.T) {
	t.Parallel()
	extra := append([]byte("junk\x03\x00\x00\x00"), 1, 2, 3, 0) // odd size plus pad byte
	w := NewWAV(nil)
	ok, start := w.Open(buildWAV(wavSpec{tag: wavFormatPCM, channels: 1, rate: 8000, bits: 8, dataSize: 100, extra: extra}))
	require.True(t, ok)
	assert.Equal(t, int64(44+len(extra)), start)
	assert.Equal(t, media.SampleU8, w.Info().Audio.Format)
}

func TestWAVRejectsUnsupported(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("RIFF"), ErrTruncated},
		{"magic", append([]byte("RIFX\x00\x00\x00\x00WAVE"), make([]byte, 32)...), ErrBadMagic},
		{"float64", buildWAV(wavSpec{tag: wavFormatFloat, channels: 1, rate: 44100, bits: 64, dataSize: 8}), ErrUnsupported},
		{"12bit", buildWAV(wavSpec{tag: wavFormatPCM, channels: 1, rate: 44100, bits: 12, dataSize: 8}), ErrUnsupported},
		{"surround", buildWAV(wavSpec{tag: wavFormatPCM, channels: 6, rate: 44100, bits: 16, dataSize: 12}), ErrUnsupported},
		{"alaw", buildWAV(wavSpec{tag: 6, channels: 1, rate: 8000, bits: 8, dataSize: 8}), ErrUnsupported},
		{"truncated", monoS16(100)[:40], ErrTruncated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWAV(nil)
			ok, start := w.Open(tc.data)
			assert.False(t, ok)
			assert.Equal(t, int64(0), start)
			var he *HeaderError
			require.True(t, errors.As(w.Err(), &he))
			assert.ErrorIs(t, w.Err(), tc.want)

			st, frames := w.ParseData(make([]byte, 64))
			assert.Equal(t, Failed, st)
			assert.Empty(t, frames)
		})
	}
}

func TestWAVUnknownSizeStreamsUntilFlush(t *testing.T) {
	t.Parallel()
	w := NewWAV(nil)
	ok, _ := w.Open(monoS16(0xFFFFFFFF))
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), w.Info().Duration)

	st, frames := w.ParseData(make([]byte, SamplesPerFrame*2+7))
	assert.Equal(t, Success, st)
	assert.Len(t, frames, 1)

	tail := w.Flush()
	require.Len(t, tail, 1)
	assert.Len(t, tail[0].Data, 6, "flush rounds down to whole samples")
}

func TestWAVSeekOffsetAndReset(t *testing.T) {
	t.Parallel()
	w := NewWAV(nil)
	ok, start := w.Open(monoS16(44100 * 2 * 10)) // 10 s
	require.True(t, ok)

	off, at := w.SeekOffset(time.Second, true)
	wantSample := int64(44100 - 44100%SamplesPerFrame)
	assert.Equal(t, start+wantSample*2, off)
	assert.Equal(t, media.TicksToDuration(wantSample, 44100), at)
	assert.LessOrEqual(t, at, time.Second)

	w.Reset(off)
	_, frames := w.ParseData(make([]byte, SamplesPerFrame*2))
	require.Len(t, frames, 1)
	assert.Equal(t, wantSample, frames[0].PTS)

	off, _ = w.SeekOffset(time.Hour, false)
	assert.LessOrEqual(t, off, start+44100*2*10)
}

func TestRegistryDetect(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry()
	assert.Equal(t, []Format{FormatWAV, FormatOggOpus}, r.Formats())
	assert.Equal(t, wavProbeSize, r.ProbeSize())

	d, format, start, err := r.Detect(monoS16(100), nil)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, format)
	assert.Equal(t, int64(44), start)
	assert.IsType(t, &WAV{}, d)

	_, _, _, err = r.Detect([]byte("not a media file at all"), nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, _, _, err = NewRegistry().Detect(monoS16(100), nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
