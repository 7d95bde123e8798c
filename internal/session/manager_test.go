package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/player"
)

func newPlayer(t *testing.T) *player.Player {
	t.Helper()
	p, err := player.New([]string{"missing.wav"}, player.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	p := newPlayer(t)

	s, ok := m.Create("a", p, []string{"missing.wav"})
	require.True(t, ok)
	assert.Equal(t, "a", s.Key)
	assert.Same(t, p, s.Player)
	assert.False(t, s.StartedAt.IsZero())

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestManagerDuplicateKey(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	_, ok := m.Create("a", newPlayer(t), nil)
	require.True(t, ok)

	s, ok := m.Create("a", newPlayer(t), nil)
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestManagerRemoveClosesPlayer(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	p := newPlayer(t)
	m.Create("a", p, nil)

	require.NoError(t, m.Remove("a"))
	assert.ErrorIs(t, p.Play(), player.ErrClosed)

	_, ok := m.Get("a")
	assert.False(t, ok)
	assert.ErrorIs(t, m.Remove("a"), ErrNotFound)
}

func TestManagerListSorted(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	for _, k := range []string{"c", "a", "b"} {
		m.Create(k, newPlayer(t), nil)
	}
	var keys []string
	for _, s := range m.List() {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestManagerCloseAll(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	p1, p2 := newPlayer(t), newPlayer(t)
	m.Create("a", p1, nil)
	m.Create("b", p2, nil)

	require.NoError(t, m.CloseAll())
	assert.Empty(t, m.List())
	assert.ErrorIs(t, p1.Play(), player.ErrClosed)
	assert.ErrorIs(t, p2.Play(), player.ErrClosed)
}
