// Package session provides the in-memory per-connection session store.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/lastlight/internal/domain"
	"github.com/ashureev/lastlight/internal/eventlog"
)

// Store maps session ids to live Sessions. Session lifetime equals connection
// lifetime; there is no persistence. Each session's mutable state is touched
// by at most one in-flight turn, so the store only guards the map itself and
// the history appends that may race a disconnect.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session

	initialHealth int
	initialPower  int
	sink          eventlog.Sink
}

// NewStore creates an empty session store.
func NewStore(initialHealth, initialPower int, sink eventlog.Sink) *Store {
	return &Store{
		sessions:      make(map[string]*domain.Session),
		initialHealth: initialHealth,
		initialPower:  initialPower,
		sink:          sink,
	}
}

// ErrSessionActive indicates a Connect for an id that already has a live
// session. Each session admits exactly one connection at a time: turns within
// a session must stay strictly sequential, so a second connection may not
// share its state.
var ErrSessionActive = errors.New("session already active")

// Connect creates a fresh session. An empty id gets a generated one. A
// Connect for an id that is still live is rejected; the id frees up when the
// owning connection disconnects.
func (s *Store) Connect(id string) (*domain.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	sess := &domain.Session{
		ID:         id,
		Health:     s.initialHealth,
		Power:      s.initialPower,
		CurrentDay: 1,
		Status:     domain.StatusActive,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	slog.Info("Session connected", "session_id", id)
	s.sink.Log(eventlog.Event{SessionID: id, Kind: eventlog.KindConnect})
	return sess, nil
}

// Get returns the live session for id, or nil.
func (s *Store) Get(id string) *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Disconnect removes the session and releases its history. Idempotent:
// calling it for an unknown or already-removed id is a no-op.
func (s *Store) Disconnect(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if existed {
		slog.Info("Session disconnected", "session_id", id)
		s.sink.Log(eventlog.Event{SessionID: id, Kind: eventlog.KindDisconnect})
	}
}

// AppendHistory appends one message to the session's history. A write that
// races a disconnect is logged and dropped; it never reaches a caller.
func (s *Store) AppendHistory(id string, role domain.Role, content string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.RecordMessage(role, content)
	}
	s.mu.Unlock()

	if !ok {
		slog.Debug("Dropping history append for closed session", "session_id", id, "role", role)
		s.sink.Log(eventlog.Event{SessionID: id, Kind: eventlog.KindStaleWrite, Payload: string(role)})
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
