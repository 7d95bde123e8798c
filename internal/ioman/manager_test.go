package ioman_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/ioman"
	"github.com/zsiec/reel/internal/source"
)

type sink struct {
	mu     sync.Mutex
	data   []byte
	starts []int64
	states []ioman.IOState
}

func (s *sink) cb(data []byte, offset int64, state ioman.IOState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data...)
	s.starts = append(s.starts, offset)
	s.states = append(s.states, state)
}

func (s *sink) last() ioman.IOState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return ioman.Normal
	}
	return s.states[len(s.states)-1]
}

func (s *sink) reset() {
	s.mu.Lock()
	s.data, s.starts, s.states = nil, nil, nil
	s.mu.Unlock()
}

func (s *sink) snapshot() ([]byte, []int64, []ioman.IOState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...), append([]int64(nil), s.starts...), append([]ioman.IOState(nil), s.states...)
}

func playlist(t *testing.T, items ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(items))
	for i, content := range items {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".bin")
		require.NoError(t, os.WriteFile(paths[i], []byte(content), 0o644))
	}
	return paths
}

func newManager(paths []string, chunk int) (*ioman.Manager, *sink) {
	m := ioman.New(paths, source.Factory(source.Options{ChunkSize: chunk}))
	s := &sink{}
	m.SetCallback(s.cb)
	return m, s
}

func TestPlaylistStitchesIntoOneStream(t *testing.T) {
	t.Parallel()
	paths := playlist(t, "hello ", "big ", "world")
	m, s := newManager(paths, 4)
	defer m.Close()

	require.NoError(t, m.Open())
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)

	data, starts, states := s.snapshot()
	assert.Equal(t, "hello big world", string(data))
	for i, st := range states[:len(states)-1] {
		assert.Equal(t, ioman.Normal, st, "interior EOF must not surface (chunk %d)", i)
	}
	// Offsets are logical and contiguous across items.
	assert.Equal(t, []int64{0, 4, 6, 10, 14}, starts)
	assert.Equal(t, 2, m.Index())
	assert.Equal(t, int64(15), m.Offset())
	assert.Equal(t, int64(15), m.Size())
	assert.Equal(t, ioman.EndOfFile, m.State())
}

func TestSetIndexValidatesBounds(t *testing.T) {
	t.Parallel()
	paths := playlist(t, "aaaa", "bbbb")
	m, s := newManager(paths, 16)
	defer m.Close()

	assert.ErrorIs(t, m.SetIndex(5), ioman.ErrInvalidIndex)
	assert.Equal(t, -1, m.Index())

	require.NoError(t, m.SetIndex(1))
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)
	data, starts, _ := s.snapshot()
	assert.Equal(t, "bbbb", string(data))
	assert.Equal(t, int64(4), starts[0], "item 1 starts after item 0 in the logical stream")
}

func TestSeekAcrossItems(t *testing.T) {
	t.Parallel()
	paths := playlist(t, "0123456789", "abcdefghij")
	m, s := newManager(paths, 4)
	defer m.Close()

	require.NoError(t, m.Open())
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)

	m.Pause()
	require.NoError(t, m.Seek(3))
	s.reset()
	m.Resume()
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)
	data, starts, _ := s.snapshot()
	assert.Equal(t, "3456789abcdefghij", string(data))
	assert.Equal(t, int64(3), starts[0])

	m.Pause()
	require.NoError(t, m.Seek(15))
	s.reset()
	m.Resume()
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)
	data, starts, _ = s.snapshot()
	assert.Equal(t, "fghij", string(data))
	assert.Equal(t, int64(15), starts[0])

	assert.ErrorIs(t, m.Seek(100), ioman.ErrSeekRange)
}

func TestSeekBeforeFirstOpenProbesSizes(t *testing.T) {
	t.Parallel()
	paths := playlist(t, "xxxxx", "yyyyy")
	m, s := newManager(paths, 8)
	defer m.Close()

	require.NoError(t, m.Seek(7))
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)
	data, _, _ := s.snapshot()
	assert.Equal(t, "yyy", string(data))
	assert.Equal(t, 1, m.Index())
}

func TestPauseHoldsReads(t *testing.T) {
	t.Parallel()
	paths := playlist(t, string(make([]byte, 64)))
	m, s := newManager(paths, 8)
	defer m.Close()

	m.Pause()
	require.NoError(t, m.Open())
	time.Sleep(20 * time.Millisecond)
	data, _, _ := s.snapshot()
	assert.Empty(t, data, "a paused manager opens items without reading")
	assert.True(t, m.Paused())

	m.Resume()
	require.Eventually(t, func() bool { return s.last() == ioman.EndOfFile }, 2*time.Second, time.Millisecond)
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	m := ioman.New(nil, source.Factory(source.Options{}))
	assert.ErrorIs(t, m.Open(), ioman.ErrNoResources)
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Open(), ioman.ErrClosed)

	bad := ioman.New([]string{filepath.Join(t.TempDir(), "nope")}, source.Factory(source.Options{}))
	defer bad.Close()
	assert.Error(t, bad.Open())
	assert.Equal(t, ioman.Error, bad.State())
}
