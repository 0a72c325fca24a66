package domain

import "context"

// SnapshotFunc receives the cumulative text generated so far.
// Each call replaces whatever the previous call delivered.
type SnapshotFunc func(text string)

// StreamTransport defines how the core application obtains a streamed reply.
// onSnapshot is invoked synchronously, in arrival order, and never after
// Generate returns. Failures are always reported as *TransportError.
type StreamTransport interface {
	Generate(ctx context.Context, window []ContextEntry, userText string, onSnapshot SnapshotFunc) (string, error)
}

// ConversationLog is the committed history of one session.
type ConversationLog interface {
	Append(ctx context.Context, turn Turn) error
	All(ctx context.Context) ([]Turn, error)
	Clear(ctx context.Context) error
}

// Renderer displays the progress of a turn. It never feeds back into the engine.
type Renderer interface {
	ShowPending()
	ClearPending()
	ShowStreamingPlaceholder()
	UpdateStreamingText(text string)
	RemovePlaceholder()
	CommitTurn(turn Turn)
}

// Notifier triggers audio/speech cues. Fire and forget.
type Notifier interface {
	Notify(kind CueKind)
}

// SessionStore defines session's persistence
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	ListSessionsByUser(ctx context.Context, userID UserID, limit int) ([]*Session, error)
}

// TurnStore defines turn persistence, keyed by session.
type TurnStore interface {
	AppendTurn(ctx context.Context, sessionID SessionID, turn Turn) error
	ListTurns(ctx context.Context, sessionID SessionID) ([]Turn, error)
	ClearTurns(ctx context.Context, sessionID SessionID) error
}

// AffirmationStore remembers the last day an affirmation was shown.
// Days are formatted as "2006-01-02"; an empty string means never.
type AffirmationStore interface {
	LastAffirmationDay(ctx context.Context, sessionID SessionID) (string, error)
	SetLastAffirmationDay(ctx context.Context, sessionID SessionID, day string) error
}

// SessionLog binds a TurnStore to one session so it satisfies ConversationLog.
type SessionLog struct {
	SessionID SessionID
	Store     TurnStore
}

func (l SessionLog) Append(ctx context.Context, turn Turn) error {
	return l.Store.AppendTurn(ctx, l.SessionID, turn)
}

func (l SessionLog) All(ctx context.Context) ([]Turn, error) {
	return l.Store.ListTurns(ctx, l.SessionID)
}

func (l SessionLog) Clear(ctx context.Context) error {
	return l.Store.ClearTurns(ctx, l.SessionID)
}
