package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reel/internal/ringbuf"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtRingSize is the staging capacity between the socket reader and the
// handler worker.
const srtRingSize = 1 << 20

// DefaultSRTLatency is the SRT receive latency.
const DefaultSRTLatency = 120 * time.Millisecond

// SRT reads a live stream from a remote SRT listener. It is not seekable and
// its size is unknown.
type SRT struct {
	*stream
}

// NewSRT creates an unopened SRT caller handler.
func NewSRT(latency time.Duration, chunk int, log *slog.Logger) *SRT {
	if latency <= 0 {
		latency = DefaultSRTLatency
	}
	s := &SRT{}
	s.stream = newStream("srt", func(path string) (io.ReadCloser, int64, error) {
		body, err := dialSRT(path, latency, s.stream)
		if err != nil {
			return nil, 0, err
		}
		return body, -1, nil
	}, chunk, log)
	return s
}

// dialSRT connects to srt://host:port?streamid=... and starts a reader
// goroutine that stages socket data in an SPSC ring.
func dialSRT(path string, latency time.Duration, st *stream) (*srtBody, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("source: parse srt url: %w", err)
	}
	cfg := srtgo.DefaultConfig()
	setNanos(&cfg.Latency, latency.Nanoseconds())
	if id := u.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}

	conn, err := srtgo.Dial(u.Host, cfg)
	if err != nil {
		return nil, fmt.Errorf("source: SRT dial %s: %w", u.Host, err)
	}
	b := &srtBody{
		conn: conn,
		ring: ringbuf.NewSPSC[byte](srtRingSize),
		log:  st.log,
		wake: st.w.Notify,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

type srtBody struct {
	conn *srtgo.Conn
	ring *ringbuf.SPSC[byte]
	log  *slog.Logger
	wake func()

	stop     chan struct{}
	done     chan struct{}
	errMu    sync.Mutex
	err      error
	stopOnce sync.Once
}

// readLoop is the ring's only producer.
func (b *srtBody) readLoop() {
	defer close(b.done)
	buf := make([]byte, srtReadBufferSize)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			pending := buf[:n]
			for len(pending) > 0 {
				w := b.ring.Write(pending)
				pending = pending[w:]
				b.wake()
				if len(pending) > 0 {
					select {
					case <-b.stop:
						return
					case <-time.After(time.Millisecond):
					}
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.log.Debug("srt read error", "error", err)
			} else {
				err = io.EOF
			}
			b.errMu.Lock()
			b.err = err
			b.errMu.Unlock()
			b.wake()
			return
		}
	}
}

func (b *srtBody) readErr() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// ready reports whether Read will return without blocking.
func (b *srtBody) ready() bool {
	return b.ring.Len() > 0 || b.readErr() != nil
}

// Read is called only from the handler worker, the ring's only consumer.
func (b *srtBody) Read(p []byte) (int, error) {
	if n := b.ring.Read(p); n > 0 {
		return n, nil
	}
	if err := b.readErr(); err != nil {
		if b.ring.Len() > 0 {
			return b.ring.Read(p), nil
		}
		return 0, err
	}
	return 0, nil
}

func (b *srtBody) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.conn.Close()
	<-b.done
	if n := b.ring.Reset(); n > 0 {
		b.log.Debug("discarded staged srt data", "bytes", n)
	}
	return nil
}

// setNanos stores ns in an integer-typed nanosecond config field.
func setNanos[T ~int | ~int32 | ~int64](dst *T, ns int64) {
	*dst = T(ns)
}
