// Package media defines the frame types that flow through the reel playback
// pipeline, from demuxing through decoding to the render-side pull callbacks.
package media

import "time"

// MediaType identifies which elementary stream a frame belongs to.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaAudio
	MediaVideo
)

func (t MediaType) String() string {
	switch t {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Codec identifies the encoding of a frame's payload.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecPCM
	CodecOpus
	CodecH264
	CodecRawVideo
)

func (c Codec) String() string {
	switch c {
	case CodecPCM:
		return "pcm"
	case CodecOpus:
		return "opus"
	case CodecH264:
		return "h264"
	case CodecRawVideo:
		return "rawvideo"
	default:
		return "unknown"
	}
}

// SampleFormat describes how PCM samples are laid out in a frame's Data.
type SampleFormat int

const (
	SampleUnknown SampleFormat = iota
	SampleU8
	SampleS16
	SampleS24
	SampleS32
	SampleF32
)

// BytesPerSample returns the storage width of one sample, or 0 if unknown.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16:
		return 2
	case SampleS24:
		return 3
	case SampleS32, SampleF32:
		return 4
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case SampleU8:
		return "u8"
	case SampleS16:
		return "s16le"
	case SampleS24:
		return "s24le"
	case SampleS32:
		return "s32le"
	case SampleF32:
		return "f32le"
	default:
		return "unknown"
	}
}

// PixelFormat identifies the layout of decoded video planes.
type PixelFormat int

const (
	PixelUnknown PixelFormat = iota
	PixelI420
	PixelNV12
	PixelRGBA
	PixelOpaque // GPU-resident, see VideoInfo.Surface
)

// FrameInfo is the type-specific part of a Frame. It is implemented only by
// AudioInfo and VideoInfo.
type FrameInfo interface {
	mediaType() MediaType
}

// AudioInfo describes an audio frame or stream.
type AudioInfo struct {
	Codec         Codec
	Format        SampleFormat
	SampleRate    int
	Channels      int
	BitsPerSample int
}

func (AudioInfo) mediaType() MediaType { return MediaAudio }

// BytesPerSecond is the PCM byte rate implied by the info, or 0 for
// compressed codecs.
func (a AudioInfo) BytesPerSecond() int {
	return a.SampleRate * a.Channels * a.BitsPerSample / 8
}

// BlockAlign is the size of one interleaved sample across all channels.
func (a AudioInfo) BlockAlign() int {
	return a.Channels * a.BitsPerSample / 8
}

// SurfaceHandle is an opaque GPU resource carried by hardware-decoded video
// frames. Release returns it to the owning pool.
type SurfaceHandle interface {
	Release()
}

// VideoInfo describes a video frame or stream.
type VideoInfo struct {
	Codec       Codec
	Width       int
	Height      int
	KeyFrame    bool
	PixelFormat PixelFormat
	Surface     SurfaceHandle
}

func (VideoInfo) mediaType() MediaType { return MediaVideo }

// Frame is a timestamped unit of media data. Timestamps are expressed in
// Timescale ticks per second. A frame is owned by exactly one pipeline stage at
// a time and is moved, never shared, between stages.
type Frame struct {
	PTS       int64
	DTS       int64
	Duration  int64
	Timescale int64
	Data      []byte
	Info      FrameInfo

	// Epoch is the seek epoch the frame was produced under. Frames from a
	// stale epoch are dropped at every queue insertion point.
	Epoch uint64
}

// Type reports whether the frame carries audio or video.
func (f *Frame) Type() MediaType {
	if f == nil || f.Info == nil {
		return MediaUnknown
	}
	return f.Info.mediaType()
}

// Audio returns the audio info and true for audio frames.
func (f *Frame) Audio() (AudioInfo, bool) {
	a, ok := f.Info.(AudioInfo)
	return a, ok
}

// Video returns the video info and true for video frames.
func (f *Frame) Video() (VideoInfo, bool) {
	v, ok := f.Info.(VideoInfo)
	return v, ok
}

// Time converts a tick count in the frame's timescale to a duration.
func (f *Frame) Time(ticks int64) time.Duration {
	return TicksToDuration(ticks, f.Timescale)
}

// PTSTime is the presentation timestamp as a duration.
func (f *Frame) PTSTime() time.Duration { return f.Time(f.PTS) }

// DurationTime is the frame duration as a duration.
func (f *Frame) DurationTime() time.Duration { return f.Time(f.Duration) }

// Release frees any GPU surface attached to the frame. It is called when a
// frame is discarded on flush or seek.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	if v, ok := f.Info.(VideoInfo); ok && v.Surface != nil {
		v.Surface.Release()
	}
}

// TicksToDuration converts ticks at timescale ticks/second into a duration.
func TicksToDuration(ticks, timescale int64) time.Duration {
	if timescale <= 0 {
		return 0
	}
	sec := ticks / timescale
	rem := ticks % timescale
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(timescale)
}

// DurationToTicks converts d into ticks at timescale ticks/second, rounding down.
func DurationToTicks(d time.Duration, timescale int64) int64 {
	if timescale <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return sec*timescale + rem*timescale/int64(time.Second)
}

// StreamInfo summarises a demuxed resource.
type StreamInfo struct {
	Duration time.Duration
	HasAudio bool
	HasVideo bool
	Audio    AudioInfo
	Video    VideoInfo
}
