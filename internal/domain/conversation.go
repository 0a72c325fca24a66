package domain

// Turn is one committed message in the conversation (user or assistant).
// Turns are immutable once committed and the log is append-only.
type Turn struct {
	ID        TurnID
	Role      Role
	Text      string
	Timestamp Timestamp
}

// Session represents one conversation between a user and the companion.
// Every session owns its own conversation log and delivery engine.
type Session struct {
	ID        SessionID
	UserID    UserID
	Title     string
	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// ContextEntry is a role-tagged text ready to be placed in a generation request.
type ContextEntry struct {
	Role Role
	Text string
}

// TurnOutcome is what a single transport call produced for a turn:
// either Delivered text or a Failed error kind.
type TurnOutcome struct {
	Text string
	Err  *TransportError
}

func Delivered(text string) TurnOutcome {
	return TurnOutcome{Text: text}
}

func Failed(err *TransportError) TurnOutcome {
	return TurnOutcome{Err: err}
}

func (o TurnOutcome) IsDelivered() bool {
	return o.Err == nil
}
