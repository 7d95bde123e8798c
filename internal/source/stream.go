// Package source provides the I/O handlers behind ioman: local files,
// ranged HTTP (including HTTP/3) and SRT network streams.
package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/internal/ioman"
	"github.com/zsiec/reel/internal/worker"
)

// DefaultChunkSize is the number of bytes requested per read cycle.
const DefaultChunkSize = 16 * 1024

var (
	ErrNotOpen     = errors.New("source: handler not open")
	ErrNotSeekable = errors.New("source: stream is not seekable")
)

// opener resolves a path into a readable body. size is -1 when unknown.
type opener func(path string) (body io.ReadCloser, size int64, err error)

// stream is the handler shared by every source. Each read cycle runs on the
// stream's worker and delivers exactly one callback while holding mu, so
// Seek cannot complete while a chunk is being delivered.
type stream struct {
	log   *slog.Logger
	kind  string
	open  opener
	chunk int
	w     *worker.Worker

	paused atomic.Bool

	mu     sync.Mutex
	body   io.ReadCloser
	size   int64
	offset int64
	done   bool // EOF or error delivered; cleared by Seek
	cb     ioman.Callback
}

// readier is implemented by bodies whose Read must not block the worker.
type readier interface {
	ready() bool
}

func newStream(kind string, open opener, chunk int, log *slog.Logger) *stream {
	if log == nil {
		log = slog.Default()
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	s := &stream{
		log:   log.With("component", "source", "kind", kind),
		kind:  kind,
		open:  open,
		chunk: chunk,
		size:  -1,
	}
	s.paused.Store(true)
	s.w = worker.New("source-"+kind, s.step, worker.WithLogger(log))
	return s
}

func (s *stream) Open(path string) error {
	body, size, err := s.open(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.body = body
	s.size = size
	s.offset = 0
	s.done = false
	s.mu.Unlock()
	s.log.Debug("opened", "path", path, "size", size)
	return nil
}

func (s *stream) SetCallback(cb ioman.Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

func (s *stream) Resume() {
	s.paused.Store(false)
	s.w.Resume()
}

// Pause may be called from inside the callback.
func (s *stream) Pause() {
	s.paused.Store(true)
	s.w.Pause()
}

func (s *stream) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *stream) Seek(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return ErrNotOpen
	}
	sk, ok := s.body.(io.Seeker)
	if !ok {
		return ErrNotSeekable
	}
	if _, err := sk.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("source: seek %s to %d: %w", s.kind, offset, err)
	}
	s.offset = offset
	s.done = false
	return nil
}

func (s *stream) Close() error {
	s.paused.Store(true)
	s.w.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

// step performs one read cycle.
func (s *stream) step() bool {
	if s.paused.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// A Pause issued while we waited for the lock wins.
	if s.paused.Load() || s.body == nil || s.done {
		return false
	}
	if r, ok := s.body.(readier); ok && !r.ready() {
		return false
	}

	buf := make([]byte, s.chunk)
	n, err := s.body.Read(buf)
	off := s.offset
	s.offset += int64(n)

	state := ioman.Normal
	switch {
	case errors.Is(err, io.EOF):
		state = ioman.EndOfFile
	case err != nil:
		s.log.Warn("read failed", "offset", off, "error", err)
		state = ioman.Error
	case s.size >= 0 && s.offset >= s.size:
		state = ioman.EndOfFile
	}
	if n == 0 && state == ioman.Normal {
		return false
	}

	if s.cb != nil {
		s.cb(buf[:n], off, state)
	}
	if state != ioman.Normal {
		s.done = true
		s.paused.Store(true)
		s.w.Pause()
	}
	return true
}
