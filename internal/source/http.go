package source

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeffallen/seekinghttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// HTTP reads a remote resource with ranged GET requests, so the stream is
// seekable without downloading the preceding bytes.
type HTTP struct {
	*stream
}

// NewHTTP creates an unopened HTTP handler using client. A nil client uses
// http.DefaultClient.
func NewHTTP(client *http.Client, chunk int, log *slog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{stream: newStream("http", openHTTP(client), chunk, log)}
}

// HTTP3Client returns a client that speaks HTTP/3 over QUIC.
func HTTP3Client(tlsConf *tls.Config) *http.Client {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	return &http.Client{
		Transport: &http3.Transport{
			TLSClientConfig: tlsConf,
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		},
	}
}

func openHTTP(client *http.Client) opener {
	return func(url string) (io.ReadCloser, int64, error) {
		r := seekinghttp.New(url)
		r.Client = client
		size, err := r.Size()
		if err != nil {
			return nil, 0, fmt.Errorf("source: sizing %s: %w", url, err)
		}
		return &httpBody{r: r, size: size}, size, nil
	}
}

// httpBody adapts seekinghttp to io.ReadSeekCloser and reports io.EOF at the
// resource end instead of issuing an unsatisfiable range request.
type httpBody struct {
	r      *seekinghttp.SeekingHTTP
	size   int64
	offset int64
}

func (b *httpBody) Read(p []byte) (int, error) {
	if b.offset >= b.size {
		return 0, io.EOF
	}
	if rem := b.size - b.offset; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := b.r.ReadAt(p, b.offset)
	b.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (b *httpBody) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += b.offset
	case io.SeekEnd:
		offset += b.size
	}
	if offset < 0 {
		return 0, fmt.Errorf("source: negative http offset %d", offset)
	}
	b.offset = offset
	return offset, nil
}

func (b *httpBody) Close() error { return nil }
