// Package decode feeds demuxed frames to codec implementations and
// reassembles their output, whether the codec completes synchronously or on
// a goroutine of its own.
package decode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zsiec/reel/media"
)

// Config describes the stream a decoder is opened for.
type Config struct {
	Codec media.Codec
	Audio media.AudioInfo
	Video media.VideoInfo
}

// ConfigFor derives a decoder config from a frame's info.
func ConfigFor(f *media.Frame) Config {
	switch info := f.Info.(type) {
	case media.AudioInfo:
		return Config{Codec: info.Codec, Audio: info}
	case media.VideoInfo:
		return Config{Codec: info.Codec, Video: info}
	default:
		return Config{}
	}
}

// CompletionFunc receives the output for the input frame with timestamp pts.
// It may be called on any goroutine.
type CompletionFunc func(pts int64, out *media.Frame, err error)

// Decoder is a codec implementation.
//
// Decode returns the output directly when it is available synchronously. A
// decoder that completes later returns (nil, nil) and delivers the output
// through the CompletionFunc instead. Flush delivers every pending output
// before returning; Reset discards them.
type Decoder interface {
	Open(cfg Config) error
	Decode(in *media.Frame) (*media.Frame, error)
	SetCompletion(fn CompletionFunc)
	Flush()
	Reset()
	Close() error
}

var (
	ErrUnsupportedCodec   = errors.New("decode: unsupported codec")
	ErrDuplicateTimestamp = errors.New("decode: duplicate timestamp in flight")
	ErrClosed             = errors.New("decode: decoder closed")
)

// Constructor creates an unopened decoder.
type Constructor func() Decoder

// Registry maps codecs to decoder constructors. It is populated by explicit
// Register calls.
type Registry struct {
	mu    sync.RWMutex
	ctors map[media.Codec]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[media.Codec]Constructor)}
}

// DefaultRegistry returns a registry with the built-in PCM and Opus decoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(media.CodecPCM, func() Decoder { return NewPCM() })
	r.Register(media.CodecOpus, func() Decoder { return NewOpus() })
	return r
}

// Register sets the constructor for codec.
func (r *Registry) Register(codec media.Codec, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[codec] = ctor
}

// New constructs an unopened decoder for codec.
func (r *Registry) New(codec media.Codec) (Decoder, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	return ctor(), nil
}
