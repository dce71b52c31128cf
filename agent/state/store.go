package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store is the persistence contract used by the orchestrator.
//
// Save applies optimistic concurrency: it fails with ErrVersionConflict when
// the stored version does not match expectedVersion, forcing the caller to
// reload and replay rather than overwrite concurrent edits. expectedVersion 0
// creates the session. A successful save is atomic across the conversation
// append and all three labelled-section writes, and returns the session with
// its incremented version.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, s *Session, expectedVersion int64) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// CloneSession deep-copies a session through its JSON form, so stores can
// hand out snapshots that callers may mutate freely.
func CloneSession(s *Session) (*Session, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &out, nil
}

// MemoryStore keeps sessions in process memory. It implements the same
// version-conflict semantics as the durable store and backs tests and local
// development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the store clock, for deterministic tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", ErrSessionNotFound, sessionID)
	}
	return CloneSession(stored)
}

func (m *MemoryStore) Save(ctx context.Context, s *Session, expectedVersion int64) (*Session, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	if s.ID == "" {
		return nil, ErrInvalidSessionID
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sessions[s.ID]
	switch {
	case !exists && expectedVersion != 0:
		return nil, fmt.Errorf("%w: id=%s", ErrSessionNotFound, s.ID)
	case exists && stored.Version != expectedVersion:
		return nil, fmt.Errorf("%w: id=%s expected=%d stored=%d",
			ErrVersionConflict, s.ID, expectedVersion, stored.Version)
	}

	next, err := CloneSession(s)
	if err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.Touch(m.now())
	m.sessions[s.ID] = next

	return CloneSession(next)
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
