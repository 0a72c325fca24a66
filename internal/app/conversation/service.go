package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/riseup-agent/internal/app/affirmation"
	"github.com/PabloGalante/riseup-agent/internal/app/delivery"
	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

// Welcome is seeded into every new or cleared conversation.
var Welcome = []string{
	"Hello! I'm Rise Up, your AI companion for emotional support and motivation. 🌟",
	"I'm here to listen, support you, and help you find your inner strength. How are you feeling today?",
}

// Surface is where one session's turns are shown and cued.
type Surface struct {
	Renderer domain.Renderer
	Notifier domain.Notifier
}

// SurfaceFunc returns the surface for a session. It is called once per
// engine.
type SurfaceFunc func(sessionID domain.SessionID) Surface

type Service struct {
	transport    domain.StreamTransport
	fallback     delivery.Responder
	sessionStore domain.SessionStore
	turnStore    domain.TurnStore
	affirmations *affirmation.Service
	surfaces     SurfaceFunc

	now        func() time.Time
	engineOpts []delivery.Option

	mu       sync.Mutex
	bindings map[domain.SessionID]*binding
	closed   bool
}

// binding is a session's engine. ready closes once the engine's setup turns
// are committed; nobody else gets the engine before that.
type binding struct {
	engine *delivery.Engine
	ready  chan struct{}
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEngineOptions is applied to every engine the service builds.
func WithEngineOptions(opts ...delivery.Option) Option {
	return func(s *Service) { s.engineOpts = append(s.engineOpts, opts...) }
}

func NewService(
	transport domain.StreamTransport,
	fallback delivery.Responder,
	sessionStore domain.SessionStore,
	turnStore domain.TurnStore,
	affirmations *affirmation.Service,
	surfaces SurfaceFunc,
	opts ...Option,
) *Service {
	s := &Service{
		transport:    transport,
		fallback:     fallback,
		sessionStore: sessionStore,
		turnStore:    turnStore,
		affirmations: affirmations,
		surfaces:     surfaces,
		now:          time.Now,
		bindings:     make(map[domain.SessionID]*binding),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type StartSessionInput struct {
	UserID domain.UserID
	Title  string
}

type StartSessionOutput struct {
	Session *domain.Session
	Turns   []domain.Turn
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionOutput, error) {
	now := s.now()

	log := observability.LoggerFromContext(ctx).With("user_id", in.UserID)
	log.Info("starting new session")

	session := &domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		UserID:    in.UserID,
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionStore.CreateSession(ctx, session); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	_, err := s.bind(ctx, session.ID, func(e *delivery.Engine) error {
		for _, text := range Welcome {
			if _, err := e.Announce(ctx, text); err != nil {
				log.Error("failed to append welcome message", "error", err)
				return err
			}
		}
		s.offerAffirmation(ctx, session.ID, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	turns, err := s.turnStore.ListTurns(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	log.Info("session started", "session_id", session.ID)

	return &StartSessionOutput{
		Session: session,
		Turns:   turns,
	}, nil
}

type SubmitInput struct {
	SessionID domain.SessionID
	Text      string
}

// Submit starts a turn in the session. The returned channel yields the
// committed assistant turn; see delivery.Engine.Submit.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (<-chan domain.Turn, error) {
	session, err := s.sessionStore.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", session.ID,
		"user_id", session.UserID,
	)

	engine, err := s.engine(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	done, err := engine.Submit(ctx, in.Text)
	if err != nil {
		if !errors.Is(err, delivery.ErrTurnInFlight) && !errors.Is(err, delivery.ErrEmptyInput) {
			log.Error("submit failed", "error", err)
		}
		return nil, err
	}
	log.Info("turn dispatched", "chars", len(in.Text))

	session.UpdatedAt = s.now()
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Warn("failed to update session", "error", err)
	}

	return done, nil
}

func (s *Service) Timeline(ctx context.Context, sessionID domain.SessionID) (*domain.Session, []domain.Turn, error) {
	log := observability.LoggerFromContext(ctx).With("session_id", sessionID)

	session, err := s.sessionStore.GetSession(ctx, sessionID)
	if err != nil {
		log.Error("failed to get session", "error", err)
		return nil, nil, err
	}

	turns, err := s.turnStore.ListTurns(ctx, sessionID)
	if err != nil {
		log.Error("failed to get turns", "error", err)
		return nil, nil, err
	}

	log.Info("fetched session timeline", "turn_count", len(turns))
	return session, turns, nil
}

// ClearHistory wipes the conversation and seeds the welcome messages again.
func (s *Service) ClearHistory(ctx context.Context, sessionID domain.SessionID) error {
	if _, err := s.sessionStore.GetSession(ctx, sessionID); err != nil {
		return err
	}

	engine, err := s.engine(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := engine.Clear(ctx, Welcome...); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to clear history", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

// Close stops every engine, abandoning turns in flight.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	bindings := s.bindings
	s.bindings = make(map[domain.SessionID]*binding)
	s.mu.Unlock()

	for _, b := range bindings {
		b.engine.Close()
	}
}

// engine returns the session's engine, building it for sessions that were
// persisted by an earlier process. A freshly built engine offers the daily
// affirmation before any caller can submit to it.
func (s *Service) engine(ctx context.Context, sessionID domain.SessionID) (*delivery.Engine, error) {
	return s.bind(ctx, sessionID, func(e *delivery.Engine) error {
		s.offerAffirmation(ctx, sessionID, e)
		return nil
	})
}

// bind returns the session's engine. When it has to build one, setup runs
// first and concurrent callers wait for it to finish.
func (s *Service) bind(ctx context.Context, sessionID domain.SessionID, setup func(*delivery.Engine) error) (*delivery.Engine, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, delivery.ErrClosed
	}
	if b, ok := s.bindings[sessionID]; ok {
		s.mu.Unlock()
		select {
		case <-b.ready:
			return b.engine, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var surface Surface
	if s.surfaces != nil {
		surface = s.surfaces(sessionID)
	}

	logger := observability.WithFields("session_id", sessionID)
	opts := append([]delivery.Option{delivery.WithLogger(logger)}, s.engineOpts...)

	b := &binding{
		engine: delivery.New(
			s.transport,
			s.fallback,
			domain.SessionLog{SessionID: sessionID, Store: s.turnStore},
			surface.Renderer,
			surface.Notifier,
			opts...,
		),
		ready: make(chan struct{}),
	}
	s.bindings[sessionID] = b
	s.mu.Unlock()

	defer close(b.ready)
	if err := setup(b.engine); err != nil {
		return nil, err
	}
	return b.engine, nil
}

func (s *Service) offerAffirmation(ctx context.Context, sessionID domain.SessionID, e *delivery.Engine) {
	if s.affirmations == nil {
		return
	}
	log := observability.LoggerFromContext(ctx).With("session_id", sessionID)

	text, ok, err := s.affirmations.Due(ctx, sessionID)
	if err != nil {
		log.Warn("affirmation check failed", "error", err)
		return
	}
	if !ok {
		return
	}

	if _, err := e.Announce(ctx, text); err != nil {
		log.Warn("failed to show daily affirmation", "error", err)
		return
	}
	if err := s.affirmations.MarkShown(ctx, sessionID); err != nil {
		log.Warn("failed to record daily affirmation", "error", err)
	}
}
