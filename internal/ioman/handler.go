// Package ioman sequences reads across a playlist of resources and presents
// them upstream as one logical byte stream.
package ioman

import "errors"

// IOState is the state reported alongside every delivered chunk.
type IOState int

const (
	Normal IOState = iota
	EndOfFile
	Error
)

func (s IOState) String() string {
	switch s {
	case Normal:
		return "normal"
	case EndOfFile:
		return "eof"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Callback receives the bytes of one read cycle. offset is the position of
// data[0] in the stream the caller is reading.
type Callback func(data []byte, offset int64, state IOState)

// Handler reads one resource on its own worker and delivers each read cycle
// through its callback, once per cycle. A handler pauses itself after
// reporting EndOfFile or Error.
//
// Seek must not return while a callback is being delivered, so that after
// Seek returns no chunk from the old position is in flight.
type Handler interface {
	Open(path string) error
	Resume()
	Pause()
	Close() error
	SetCallback(cb Callback)
	Seek(offset int64) error
	// Size returns the resource length in bytes, or -1 if unknown.
	Size() int64
}

// HandlerFactory constructs an unopened handler suitable for path.
type HandlerFactory func(path string) (Handler, error)

var (
	ErrNoResources  = errors.New("ioman: empty resource list")
	ErrInvalidIndex = errors.New("ioman: resource index out of range")
	ErrClosed       = errors.New("ioman: manager closed")
	ErrSeekRange    = errors.New("ioman: seek offset beyond end of stream")
)
