package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

// TurnStore keeps committed turns per session, in append order.
type TurnStore struct {
	mu    sync.RWMutex
	turns map[domain.SessionID][]domain.Turn
}

func NewTurnStore() *TurnStore {
	return &TurnStore{
		turns: make(map[domain.SessionID][]domain.Turn),
	}
}

func (s *TurnStore) AppendTurn(_ context.Context, sessionID domain.SessionID, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// ListTurns returns a copy so callers cannot reorder the log.
func (s *TurnStore) ListTurns(_ context.Context, sessionID domain.SessionID) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[sessionID]
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *TurnStore) ClearTurns(_ context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.turns, sessionID)
	return nil
}
