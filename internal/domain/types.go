package domain

import "time"

type SessionID string
type UserID string
type TurnID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CueKind names a fire-and-forget audio/speech cue.
type CueKind string

const (
	CueMessage CueKind = "message" // after a turn is committed
	CueClick   CueKind = "click"   // after the history is cleared
)

type Timestamp = time.Time
