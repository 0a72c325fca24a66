package affirmation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

const dayLayout = "2006-01-02"

var affirmations = []string{
	"You are capable of amazing things.",
	"Every day is a fresh start.",
	"You are stronger than you think.",
	"Believe in yourself and all that you are.",
	"You are worthy of love and happiness.",
	"Your potential is limitless.",
	"Small steps led to big changes.",
	"You are in charge of your own happiness.",
	"Today is a gift, that's why it's called the present.",
	"You are enough, just as you are.",
}

// All returns a copy of the affirmation pool.
func All() []string {
	out := make([]string, len(affirmations))
	copy(out, affirmations)
	return out
}

// Format wraps an affirmation the way it is shown in the conversation.
func Format(text string) string {
	return fmt.Sprintf("🌟 **Daily Affirmation** 🌟\n\n\"%s\"", text)
}

// Service decides whether a session is due its daily affirmation.
type Service struct {
	store domain.AffirmationStore
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// NewService creates an affirmation service from an AffirmationStore
func NewService(store domain.AffirmationStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return s
}

func (s *Service) today() string {
	return s.now().Local().Format(dayLayout)
}

// Due returns a formatted affirmation when none was shown today.
func (s *Service) Due(ctx context.Context, sessionID domain.SessionID) (string, bool, error) {
	if s.store == nil {
		return "", false, nil
	}

	last, err := s.store.LastAffirmationDay(ctx, sessionID)
	if err != nil {
		return "", false, fmt.Errorf("reading last affirmation day: %w", err)
	}
	if last == s.today() {
		return "", false, nil
	}

	s.mu.Lock()
	pick := affirmations[s.rng.IntN(len(affirmations))]
	s.mu.Unlock()

	return Format(pick), true, nil
}

// MarkShown records today as the last day an affirmation was shown.
func (s *Service) MarkShown(ctx context.Context, sessionID domain.SessionID) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SetLastAffirmationDay(ctx, sessionID, s.today()); err != nil {
		return fmt.Errorf("storing last affirmation day: %w", err)
	}
	return nil
}
