package source

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// File reads a local file.
type File struct {
	*stream
}

// NewFile creates an unopened file handler.
func NewFile(chunk int, log *slog.Logger) *File {
	return &File{stream: newStream("file", openFile, chunk, log)}
}

func openFile(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("source: open file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("source: stat %s: %w", path, err)
	}
	return f, st.Size(), nil
}
