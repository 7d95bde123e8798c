// Package session tracks the players created through the control API,
// keyed by a caller-chosen name.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/reel/player"
)

var ErrNotFound = errors.New("session: not found")

// Session is one live player.
type Session struct {
	Key       string
	Paths     []string
	StartedAt time.Time
	Player    *player.Player
}

// Manager owns a keyed set of sessions. Removing a session closes its
// player.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create registers p under key. Returns the session and true if created,
// or nil and false if a session with this key already exists. The caller
// keeps ownership of p in the latter case.
func (m *Manager) Create(key string, p *player.Player, paths []string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Session{
		Key:       key,
		Paths:     slices.Clone(paths),
		StartedAt: time.Now(),
		Player:    p,
	}
	m.sessions[key] = s
	m.log.Info("session created", "key", key, "player", p.ID())
	return s, true
}

// Get returns the session for key.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Remove drops the session and closes its player.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	err := s.Player.Close()
	m.log.Info("session removed", "key", key)
	return err
}

// List returns all sessions ordered by key.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int { return strings.Compare(a.Key, b.Key) })
	return sessions
}

// CloseAll removes every session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for key, s := range sessions {
		if err := s.Player.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", key, err))
		}
	}
	if len(sessions) > 0 {
		m.log.Info("sessions closed", "count", len(sessions))
	}
	return errors.Join(errs...)
}
