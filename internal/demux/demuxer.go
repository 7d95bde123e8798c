package demux

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/reel/media"
)

// State is the result of one ParseData call.
type State int

const (
	// Success means more input is needed.
	Success State = iota
	// FileEnd means the stream is fully parsed; any trailing partial frame
	// was emitted with this call.
	FileEnd
	// Failed means the input is malformed.
	Failed
)

func (s State) String() string {
	switch s {
	case Success:
		return "success"
	case FileEnd:
		return "file-end"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Demuxer is a stateful container parser. It is driven by a single goroutine.
type Demuxer interface {
	// Open parses the container header from probe. It reports whether the
	// header is valid and the byte offset at which frame data begins.
	Open(probe []byte) (ok bool, dataStart int64)
	// ParseData consumes the next chunk of frame data.
	ParseData(chunk []byte) (State, []*media.Frame)
	// Flush emits whatever is buffered when input ends before the container
	// says it should.
	Flush() []*media.Frame
	// Info describes the stream; valid after a successful Open.
	Info() media.StreamInfo
	// SeekOffset maps a media time to the byte offset to resume reading
	// from and the media time of the first frame produced there.
	SeekOffset(t time.Duration, accurate bool) (int64, time.Duration)
	// Reset discards buffered data and prepares to parse from offset, a
	// value previously returned by SeekOffset or Open.
	Reset(offset int64)
	// ProbeSize is the number of leading bytes Open wants to see.
	ProbeSize() int
}

// Format names a container format.
type Format string

const FormatWAV Format = "wav"

// Factory constructs an unopened Demuxer.
type Factory func(log *slog.Logger) Demuxer

var ErrUnknownFormat = errors.New("demux: no registered format accepts the input")

// HeaderError describes why a container header was rejected.
type HeaderError struct {
	Format Format
	Field  string
	Err    error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("demux: %s header %s: %v", e.Format, e.Field, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

var (
	ErrTruncated   = errors.New("truncated")
	ErrBadMagic    = errors.New("bad magic")
	ErrUnsupported = errors.New("unsupported")
)

type registered struct {
	format  Format
	factory Factory
}

// Registry maps formats to parser constructors. Formats are tried in
// registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []registered
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with every built-in parser.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatWAV, func(log *slog.Logger) Demuxer { return NewWAV(log) })
	r.Register(FormatOggOpus, func(log *slog.Logger) Demuxer { return NewOggOpus(log) })
	return r
}

// Register adds or replaces the factory for format.
func (r *Registry) Register(format Format, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].format == format {
			r.entries[i].factory = f
			return
		}
	}
	r.entries = append(r.entries, registered{format, f})
}

// Formats lists the registered formats in detection order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.format
	}
	return out
}

// ProbeSize is the largest probe any registered parser asks for.
func (r *Registry) ProbeSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := 0
	for _, e := range r.entries {
		size = max(size, e.factory(nil).ProbeSize())
	}
	return size
}

// Detect returns an opened demuxer for the first format whose parser accepts
// probe, together with the offset where frame data begins.
func (r *Registry) Detect(probe []byte, log *slog.Logger) (Demuxer, Format, int64, error) {
	r.mu.RLock()
	entries := append([]registered(nil), r.entries...)
	r.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		d := e.factory(log)
		if ok, start := d.Open(probe); ok {
			return d, e.format, start, nil
		}
		if he, ok := d.(interface{ Err() error }); ok && he.Err() != nil {
			errs = append(errs, he.Err())
		}
	}
	if len(errs) > 0 {
		return nil, "", 0, fmt.Errorf("%w: %w", ErrUnknownFormat, errors.Join(errs...))
	}
	return nil, "", 0, ErrUnknownFormat
}
