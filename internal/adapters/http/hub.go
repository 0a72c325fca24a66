package httpadapter

import (
	"sync"

	"github.com/PabloGalante/riseup-agent/internal/app/conversation"
	"github.com/PabloGalante/riseup-agent/internal/domain"
)

// Event types sent to /sessions/{id}/events subscribers.
const (
	EventPending            = "pending"
	EventPendingCleared     = "pending-cleared"
	EventPlaceholder        = "placeholder"
	EventUpdate             = "update"
	EventPlaceholderRemoved = "placeholder-removed"
	EventCommit             = "commit"
	EventCue                = "cue"
	EventReset              = "reset"
)

type Event struct {
	Type string        `json:"type"`
	Text string        `json:"text,omitempty"`
	Turn *turnResponse `json:"turn,omitempty"`
	Cue  string        `json:"cue,omitempty"`
}

// Subscription is one listener's queue. Publishing never blocks: a run of
// pending updates collapses into the latest one, every other event is kept.
type Subscription struct {
	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	closed bool
}

func newSubscription() *Subscription {
	return &Subscription{ready: make(chan struct{}, 1)}
}

// Ready is signalled whenever Drain has something to return.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns the queued events in publish order and empties the queue.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.queue
	s.queue = nil
	return out
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if n := len(s.queue); ev.Type == EventUpdate && n > 0 && s.queue[n-1].Type == EventUpdate {
		s.queue[n-1] = ev
	} else {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Hub fans one session's render calls out to every subscriber.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a listener. The returned func unsubscribes it.
func (h *Hub) Subscribe() (*Subscription, func()) {
	sub := newSubscription()

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()

		sub.mu.Lock()
		sub.closed = true
		sub.queue = nil
		sub.mu.Unlock()
	}
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		sub.push(ev)
	}
}

func (h *Hub) ShowPending()              { h.publish(Event{Type: EventPending}) }
func (h *Hub) ClearPending()             { h.publish(Event{Type: EventPendingCleared}) }
func (h *Hub) ShowStreamingPlaceholder() { h.publish(Event{Type: EventPlaceholder}) }
func (h *Hub) RemovePlaceholder()        { h.publish(Event{Type: EventPlaceholderRemoved}) }
func (h *Hub) Reset()                    { h.publish(Event{Type: EventReset}) }

func (h *Hub) UpdateStreamingText(text string) {
	h.publish(Event{Type: EventUpdate, Text: text})
}

func (h *Hub) CommitTurn(turn domain.Turn) {
	t := toTurnResponse(turn)
	h.publish(Event{Type: EventCommit, Turn: &t})
}

func (h *Hub) Notify(kind domain.CueKind) {
	h.publish(Event{Type: EventCue, Cue: string(kind)})
}

// Hubs keeps one Hub per session.
type Hubs struct {
	mu   sync.Mutex
	hubs map[domain.SessionID]*Hub
}

func NewHubs() *Hubs {
	return &Hubs{hubs: make(map[domain.SessionID]*Hub)}
}

func (hs *Hubs) Get(id domain.SessionID) *Hub {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	h, ok := hs.hubs[id]
	if !ok {
		h = NewHub()
		hs.hubs[id] = h
	}
	return h
}

// Surface plugs the session's hub into the conversation service.
func (hs *Hubs) Surface(id domain.SessionID) conversation.Surface {
	h := hs.Get(id)
	return conversation.Surface{Renderer: h, Notifier: h}
}
