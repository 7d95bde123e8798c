package source

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zsiec/reel/internal/ioman"
)

// Options configures the handlers created by Factory.
type Options struct {
	ChunkSize  int
	HTTPClient *http.Client
	SRTLatency time.Duration
	Logger     *slog.Logger
}

// Factory returns an ioman.HandlerFactory that picks a handler by path
// scheme: http(s) URLs are read with ranged requests, srt URLs by dialing an
// SRT listener, anything else as a local file.
func Factory(opts Options) ioman.HandlerFactory {
	return func(path string) (ioman.Handler, error) {
		switch {
		case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
			return NewHTTP(opts.HTTPClient, opts.ChunkSize, opts.Logger), nil
		case strings.HasPrefix(path, "srt://"):
			return NewSRT(opts.SRTLatency, opts.ChunkSize, opts.Logger), nil
		default:
			return NewFile(opts.ChunkSize, opts.Logger), nil
		}
	}
}
