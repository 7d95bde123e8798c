package player

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/media"
)

// Test container: "RVID", a little-endian frame count, then one 4-byte
// frame every 40 ms holding its own index.
const (
	rvidFormat   demux.Format = "rvid"
	rvidHeader                = 8
	rvidFrame                 = 4
	rvidInterval              = 40 * time.Millisecond
)

func writeRVID(t *testing.T, frames int) string {
	t.Helper()
	b := append([]byte("RVID"), binary.LittleEndian.AppendUint32(nil, uint32(frames))...)
	for i := range frames {
		b = binary.LittleEndian.AppendUint32(b, uint32(i))
	}
	path := filepath.Join(t.TempDir(), "clip.rvid")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

type rvidDemuxer struct {
	count int
	next  int
	buf   []byte
}

func (d *rvidDemuxer) Open(probe []byte) (bool, int64) {
	if len(probe) < rvidHeader || string(probe[:4]) != "RVID" {
		return false, 0
	}
	d.count = int(binary.LittleEndian.Uint32(probe[4:8]))
	return true, rvidHeader
}

func (d *rvidDemuxer) ParseData(chunk []byte) (demux.State, []*media.Frame) {
	d.buf = append(d.buf, chunk...)
	var out []*media.Frame
	for len(d.buf) >= rvidFrame && d.next < d.count {
		ms := int64(rvidInterval / time.Millisecond)
		out = append(out, &media.Frame{
			PTS:       int64(d.next) * ms,
			DTS:       int64(d.next) * ms,
			Duration:  ms,
			Timescale: 1000,
			Data:      append([]byte(nil), d.buf[:rvidFrame]...),
			Info:      media.VideoInfo{Codec: media.CodecRawVideo, Width: 2, Height: 2, KeyFrame: true},
		})
		d.buf = d.buf[rvidFrame:]
		d.next++
	}
	if d.next == d.count {
		return demux.FileEnd, out
	}
	return demux.Success, out
}

func (d *rvidDemuxer) Flush() []*media.Frame { return nil }

func (d *rvidDemuxer) Info() media.StreamInfo {
	return media.StreamInfo{
		Duration: time.Duration(d.count) * rvidInterval,
		HasVideo: true,
		Video:    media.VideoInfo{Codec: media.CodecRawVideo, Width: 2, Height: 2},
	}
}

func (d *rvidDemuxer) SeekOffset(t time.Duration, _ bool) (int64, time.Duration) {
	i := min(int(t/rvidInterval), d.count)
	return rvidHeader + int64(i*rvidFrame), time.Duration(i) * rvidInterval
}

func (d *rvidDemuxer) Reset(offset int64) {
	d.next = int(offset-rvidHeader) / rvidFrame
	d.buf = nil
}

func (d *rvidDemuxer) ProbeSize() int { return rvidHeader }

// rawVideoDecoder passes frame data through as I420.
type rawVideoDecoder struct{}

func (rawVideoDecoder) Open(decode.Config) error           { return nil }
func (rawVideoDecoder) SetCompletion(decode.CompletionFunc) {}
func (rawVideoDecoder) Flush()                              {}
func (rawVideoDecoder) Reset()                              {}
func (rawVideoDecoder) Close() error                        { return nil }

func (rawVideoDecoder) Decode(in *media.Frame) (*media.Frame, error) {
	v, _ := in.Video()
	v.PixelFormat = media.PixelI420
	return &media.Frame{
		PTS:       in.PTS,
		DTS:       in.DTS,
		Duration:  in.Duration,
		Timescale: in.Timescale,
		Data:      in.Data,
		Info:      v,
	}, nil
}

type fakeVideo struct {
	mu      sync.Mutex
	info    media.VideoInfo
	opens   int
	width   int
	height  int
	flushes int
	closed  bool
}

func (v *fakeVideo) Open(info media.VideoInfo) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.info = info
	v.opens++
	return nil
}

func (v *fakeVideo) SetRenderSize(w, h int) {
	v.mu.Lock()
	v.width, v.height = w, h
	v.mu.Unlock()
}

func (v *fakeVideo) Flush() {
	v.mu.Lock()
	v.flushes++
	v.mu.Unlock()
}

func (v *fakeVideo) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

// fakeTime is a manually advanced wall clock.
type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeTime) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func videoRegistries(async bool) (*demux.Registry, *decode.Registry) {
	demuxers := demux.NewRegistry()
	demuxers.Register(rvidFormat, func(*slog.Logger) demux.Demuxer { return &rvidDemuxer{} })
	decoders := decode.NewRegistry()
	decoders.Register(media.CodecRawVideo, func() decode.Decoder {
		if async {
			return decode.NewAsync(rawVideoDecoder{})
		}
		return rawVideoDecoder{}
	})
	return demuxers, decoders
}

func frameIndex(t *testing.T, f *media.Frame) int {
	t.Helper()
	require.Len(t, f.Data, rvidFrame)
	return int(binary.LittleEndian.Uint32(f.Data))
}

func TestVideoOnlyPacesOnWallClock(t *testing.T) {
	t.Parallel()
	demuxers, decoders := videoRegistries(false)
	ft := &fakeTime{t: time.Unix(1700000000, 0)}
	video := &fakeVideo{}
	s := DefaultSettings()
	s.RenderWidth, s.RenderHeight = 320, 240
	p, audio, rec := newTestPlayer(t, []string{writeRVID(t, 50)}, s,
		WithDemuxers(demuxers), WithDecoders(decoders), WithVideoRenderer(video), WithClock(ft.now))

	require.NoError(t, p.Play())
	waitState(t, p, StatePlaying)
	assert.Equal(t, clock.SourceWall, p.clock.Source())
	assert.Equal(t, 2*time.Second, p.Info().Duration)
	assert.False(t, p.Info().HasAudio)

	video.mu.Lock()
	assert.Equal(t, 1, video.opens)
	assert.Equal(t, 2, video.info.Width)
	assert.Equal(t, 320, video.width)
	assert.Equal(t, 240, video.height)
	video.mu.Unlock()
	audio.mu.Lock()
	assert.Zero(t, audio.opens, "no audio output for a video-only stream")
	audio.mu.Unlock()

	require.Eventually(t, func() bool { return p.videoQ.Len() >= 20 }, 5*time.Second, time.Millisecond)

	f, ok := p.NextVideoFrame()
	require.True(t, ok)
	assert.Equal(t, 0, frameIndex(t, f))
	v, _ := f.Video()
	assert.Equal(t, media.PixelI420, v.PixelFormat)
	_, ok = p.NextVideoFrame()
	assert.False(t, ok, "the next frame is not due yet")

	ft.advance(rvidInterval)
	f, ok = p.NextVideoFrame()
	require.True(t, ok)
	assert.Equal(t, 1, frameIndex(t, f))

	// Frames that fell behind are skipped in favour of the latest due one.
	ft.advance(200 * time.Millisecond)
	f, ok = p.NextVideoFrame()
	require.True(t, ok)
	assert.Equal(t, 6, frameIndex(t, f))
	assert.Equal(t, 240*time.Millisecond, p.CurrentPlayedTime())

	// The wall clock stands still while paused.
	require.NoError(t, p.Pause())
	ft.advance(time.Second)
	_, ok = p.NextVideoFrame()
	assert.False(t, ok)
	require.NoError(t, p.Play())
	assert.Equal(t, 240*time.Millisecond, p.CurrentPlayedTime())
	_, ok = p.NextVideoFrame()
	assert.False(t, ok)

	ft.advance(2 * time.Second)
	last := -1
	require.Eventually(t, func() bool {
		if f, ok := p.NextVideoFrame(); ok {
			last = int(binary.LittleEndian.Uint32(f.Data))
		}
		return p.State() == StateCompleted
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 49, last)
	require.Eventually(t, func() bool {
		return containsEvent[PlayEnd](rec)
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	video.mu.Lock()
	assert.True(t, video.closed)
	video.mu.Unlock()
}

func TestAsyncDecoderSeek(t *testing.T) {
	t.Parallel()
	demuxers, decoders := videoRegistries(true)
	ft := &fakeTime{t: time.Unix(1700000000, 0)}
	video := &fakeVideo{}
	p, _, rec := newTestPlayer(t, []string{writeRVID(t, 100)}, DefaultSettings(),
		WithDemuxers(demuxers), WithDecoders(decoders), WithVideoRenderer(video), WithClock(ft.now))

	require.NoError(t, p.Play())
	waitState(t, p, StatePlaying)
	f, ok := p.NextVideoFrame()
	require.True(t, ok)
	assert.Equal(t, 0, frameIndex(t, f))

	require.NoError(t, p.Seek(time.Second+10*time.Millisecond, true))
	require.Eventually(t, func() bool {
		_, ok := rec.seekDone()
		return ok
	}, 5*time.Second, time.Millisecond)
	waitState(t, p, StatePlaying)
	video.mu.Lock()
	assert.Positive(t, video.flushes)
	video.mu.Unlock()

	// The frame spanning the target is kept whole; nothing decoded before
	// the seek comes out.
	require.Eventually(t, func() bool {
		f, ok = p.NextVideoFrame()
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 25, frameIndex(t, f))
	assert.Equal(t, time.Second, f.PTSTime())

	ft.advance(rvidInterval)
	require.Eventually(t, func() bool {
		f, ok = p.NextVideoFrame()
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 26, frameIndex(t, f))
}

func containsEvent[E Event](r *recorder) bool {
	for _, ev := range r.snapshot() {
		if _, ok := ev.(E); ok {
			return true
		}
	}
	return false
}
