package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/firestore"
)

// SessionStore persists import sessions. *firestore.Client satisfies it.
type SessionStore interface {
	CreateImportSession(ctx context.Context, session *firestore.ImportSession) error
	UpdateImportSession(ctx context.Context, session *firestore.ImportSession) error
	GetImportSession(ctx context.Context, sessionID string) (*firestore.ImportSession, error)
}

// MemorySessions keeps sessions in process, for servers without Firestore.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]firestore.ImportSession
}

// NewMemorySessions creates an empty session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]firestore.ImportSession)}
}

func (m *MemorySessions) CreateImportSession(_ context.Context, s *firestore.ImportSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", domain.ErrValidation, s.ID)
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemorySessions) UpdateImportSession(_ context.Context, s *firestore.ImportSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemorySessions) GetImportSession(_ context.Context, id string) (*firestore.ImportSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: import session %s", domain.ErrNotFound, id)
	}
	return &s, nil
}
