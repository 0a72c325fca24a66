package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

// AffirmationStore is a simple in-memory implementation of domain.AffirmationStore.
// It is NOT persistent and is only suitable for development / local mode.
type AffirmationStore struct {
	mu   sync.RWMutex
	days map[domain.SessionID]string
}

// NewAffirmationStore creates a new in-memory AffirmationStore.
func NewAffirmationStore() *AffirmationStore {
	return &AffirmationStore{
		days: make(map[domain.SessionID]string),
	}
}

// LastAffirmationDay returns "" when no affirmation was shown yet.
func (s *AffirmationStore) LastAffirmationDay(_ context.Context, sessionID domain.SessionID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.days[sessionID], nil
}

func (s *AffirmationStore) SetLastAffirmationDay(_ context.Context, sessionID domain.SessionID, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.days[sessionID] = day
	return nil
}
