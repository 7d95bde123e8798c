package ioman

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/reel/internal/worker"
)

// Manager owns the active Handler for the current playlist item and stitches
// items into one logical stream. Offsets reported upstream are logical: the
// sum of the sizes of preceding items plus the offset within the current
// item. EndOfFile is surfaced only at the end of the last item; earlier
// items advance automatically.
//
// Item transitions run on the manager's own worker, never on a handler's
// goroutine, so closing the finished handler cannot self-join.
type Manager struct {
	log     *slog.Logger
	factory HandlerFactory
	w       *worker.Worker

	// op serializes structural changes (open, advance, seek, close). It is
	// never taken from a handler callback.
	op sync.Mutex

	mu      sync.Mutex
	paths   []string
	sizes   []int64 // -1 until known
	index   int
	state   IOState
	handler Handler
	base    int64 // logical offset of the current item's first byte
	offset  int64 // logical offset of the next byte to deliver
	gen     uint64
	paused  bool
	closed  bool
	cb      Callback
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates a manager over paths. Handlers are constructed lazily by
// factory when an item is opened.
func New(paths []string, factory HandlerFactory, opts ...Option) *Manager {
	m := &Manager{
		log:     slog.Default(),
		factory: factory,
		paths:   append([]string(nil), paths...),
		sizes:   unknownSizes(len(paths)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "ioman")
	m.w = worker.New("ioman", nil, worker.WithLogger(m.log))
	m.w.Start()
	return m
}

func unknownSizes(n int) []int64 {
	s := make([]int64, n)
	for i := range s {
		s[i] = -1
	}
	return s
}

// SetCallback sets the upstream consumer of logical-stream chunks.
func (m *Manager) SetCallback(cb Callback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// SetPaths replaces the playlist. The current handler is closed and the
// index reset to 0; call Open to start reading the new list.
func (m *Manager) SetPaths(paths []string) {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	old := m.handler
	m.handler = nil
	m.gen++
	m.paths = append([]string(nil), paths...)
	m.sizes = unknownSizes(len(paths))
	m.index = 0
	m.base, m.offset = 0, 0
	m.state = Normal
	m.mu.Unlock()

	m.closeHandler(old)
}

// Open opens the item at the current index.
func (m *Manager) Open() error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.openLocked(0)
}

// SetIndex validates i and reopens the playlist at item i. An out-of-range
// index leaves the manager without an active handler.
func (m *Manager) SetIndex(i int) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	if i < 0 || i >= len(m.paths) {
		old := m.handler
		m.handler = nil
		m.index = -1
		m.gen++
		m.mu.Unlock()
		m.closeHandler(old)
		return fmt.Errorf("%w: %d", ErrInvalidIndex, i)
	}
	m.mu.Unlock()

	var base int64
	for j := 0; j < i; j++ {
		size, err := m.itemSize(j)
		if err != nil {
			return err
		}
		if size < 0 {
			return fmt.Errorf("ioman: size of item %d unknown", j)
		}
		base += size
	}

	m.mu.Lock()
	m.index = i
	m.base, m.offset = base, base
	m.mu.Unlock()
	return m.openLocked(0)
}

// openLocked closes any current handler and opens the item at m.index,
// positioned at inItem bytes. The caller holds m.op.
func (m *Manager) openLocked(inItem int64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if len(m.paths) == 0 {
		m.mu.Unlock()
		return ErrNoResources
	}
	if m.index < 0 || m.index >= len(m.paths) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidIndex, m.index)
	}
	old := m.handler
	m.handler = nil
	m.gen++
	gen := m.gen
	index := m.index
	path := m.paths[index]
	paused := m.paused
	m.state = Normal
	m.mu.Unlock()

	m.closeHandler(old)

	h, err := m.factory(path)
	if err != nil {
		m.fail()
		return fmt.Errorf("ioman: creating handler for %q: %w", path, err)
	}
	h.SetCallback(func(data []byte, offset int64, state IOState) {
		m.deliver(gen, data, offset, state)
	})
	if err := h.Open(path); err != nil {
		_ = h.Close()
		m.fail()
		return fmt.Errorf("ioman: opening %q: %w", path, err)
	}
	if inItem > 0 {
		if err := h.Seek(inItem); err != nil {
			_ = h.Close()
			m.fail()
			return fmt.Errorf("ioman: positioning %q: %w", path, err)
		}
	}

	m.mu.Lock()
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		_ = h.Close()
		return ErrClosed
	}
	m.handler = h
	m.sizes[index] = h.Size()
	m.mu.Unlock()

	m.log.Debug("opened item", "index", index, "path", path, "size", h.Size())
	if !paused {
		h.Resume()
	}
	return nil
}

func (m *Manager) fail() {
	m.mu.Lock()
	m.state = Error
	m.mu.Unlock()
}

func (m *Manager) closeHandler(h Handler) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		m.log.Warn("closing handler", "error", err)
	}
}

// deliver forwards one chunk from the handler of generation gen. Chunks
// from superseded handlers are dropped.
func (m *Manager) deliver(gen uint64, data []byte, offset int64, state IOState) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	logical := m.base + offset
	m.offset = logical + int64(len(data))

	advance := false
	switch state {
	case EndOfFile:
		if m.index < len(m.paths)-1 {
			// Interior EOF: fold into the logical stream.
			m.sizes[m.index] = offset + int64(len(data))
			state = Normal
			advance = true
		} else {
			m.state = EndOfFile
		}
	case Error:
		m.state = Error
	}
	cb := m.cb
	m.mu.Unlock()

	if cb != nil && (len(data) > 0 || state != Normal) {
		cb(data, logical, state)
	}
	if advance {
		m.w.Timers().RunAfter(0, func() { m.nextTask(gen) })
	}
}

// NextTask closes the current handler and opens the next playlist item. It
// reports false when the current item is the last one.
func (m *Manager) NextTask() (bool, error) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.advance(gen)
}

func (m *Manager) nextTask(gen uint64) {
	if _, err := m.advance(gen); err != nil {
		m.log.Error("advancing playlist", "error", err)
		m.mu.Lock()
		cb := m.cb
		offset := m.offset
		m.mu.Unlock()
		if cb != nil {
			cb(nil, offset, Error)
		}
	}
}

func (m *Manager) advance(gen uint64) (bool, error) {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return false, nil
	}
	if m.index >= len(m.paths)-1 {
		m.mu.Unlock()
		return false, nil
	}
	size := m.sizes[m.index]
	if size < 0 {
		size = m.offset - m.base
		m.sizes[m.index] = size
	}
	m.base += size
	m.offset = m.base
	m.index++
	m.mu.Unlock()

	return true, m.openLocked(0)
}

// Seek repositions the logical stream at offset. Item sizes not yet known
// are resolved by opening the preceding items. After Seek returns, no chunk
// from the previous position will be delivered.
func (m *Manager) Seek(offset int64) error {
	if offset < 0 {
		offset = 0
	}
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if len(m.paths) == 0 {
		m.mu.Unlock()
		return ErrNoResources
	}
	m.mu.Unlock()

	index, base, err := m.locate(offset)
	if err != nil {
		return err
	}

	m.mu.Lock()
	h := m.handler
	same := h != nil && index == m.index
	m.mu.Unlock()

	if same {
		h.Pause()
		if err := h.Seek(offset - base); err != nil {
			return fmt.Errorf("ioman: seek: %w", err)
		}
		m.mu.Lock()
		// Invalidates any pending advance scheduled from the old position.
		m.gen++
		gen := m.gen
		m.base = base
		m.offset = offset
		m.state = Normal
		paused := m.paused
		m.mu.Unlock()
		h.SetCallback(func(data []byte, off int64, state IOState) {
			m.deliver(gen, data, off, state)
		})
		if !paused {
			h.Resume()
		}
		return nil
	}

	m.mu.Lock()
	m.index = index
	m.base = base
	m.offset = offset
	m.mu.Unlock()
	return m.openLocked(offset - base)
}

// locate returns the item containing logical offset and that item's base.
// The caller holds m.op.
func (m *Manager) locate(offset int64) (int, int64, error) {
	var base int64
	m.mu.Lock()
	n := len(m.paths)
	m.mu.Unlock()
	for i := 0; i < n; i++ {
		size, err := m.itemSize(i)
		if err != nil {
			return 0, 0, err
		}
		if size < 0 || offset < base+size || i == n-1 {
			if size >= 0 && i == n-1 && offset > base+size {
				return 0, 0, fmt.Errorf("%w: %d", ErrSeekRange, offset)
			}
			return i, base, nil
		}
		base += size
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrSeekRange, offset)
}

// itemSize returns the size of item i, probing it with a throwaway handler
// when it has not been opened yet.
func (m *Manager) itemSize(i int) (int64, error) {
	m.mu.Lock()
	size := m.sizes[i]
	path := m.paths[i]
	m.mu.Unlock()
	if size >= 0 {
		return size, nil
	}

	h, err := m.factory(path)
	if err != nil {
		return 0, fmt.Errorf("ioman: creating probe handler for %q: %w", path, err)
	}
	if err := h.Open(path); err != nil {
		return 0, fmt.Errorf("ioman: probing %q: %w", path, err)
	}
	size = h.Size()
	m.closeHandler(h)

	m.mu.Lock()
	m.sizes[i] = size
	m.mu.Unlock()
	return size, nil
}

// Pause stops the active handler from issuing further reads. It is safe to
// call from inside a Callback.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.Pause()
	}
}

// Resume restarts reading on the active handler.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	h := m.handler
	done := m.state != Normal
	m.mu.Unlock()
	if h != nil && !done {
		h.Resume()
	}
}

// Paused reports whether reading is paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Close releases the active handler and the manager's worker.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	m.mu.Unlock()

	m.w.Stop()

	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	h := m.handler
	m.handler = nil
	m.mu.Unlock()
	if h != nil {
		return h.Close()
	}
	return nil
}

// State returns the logical stream state.
func (m *Manager) State() IOState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Index returns the current playlist index, or -1 after an invalid SetIndex.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Offset returns the logical offset of the next byte to be delivered.
func (m *Manager) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Size returns the sum of the known item sizes.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, s := range m.sizes {
		if s > 0 {
			total += s
		}
	}
	return total
}

// Len returns the number of playlist items.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}
