// Package delivery turns one user utterance into exactly one committed
// assistant reply, streamed from the remote model when possible and produced
// locally when not.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/PabloGalante/riseup-agent/internal/app/contextwindow"
	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

var (
	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrEmptyInput   = errors.New("empty input")
	ErrClosed       = errors.New("delivery engine closed")
)

var errEmptyReply = errors.New("stream ended without text")

// Responder produces the local reply used when the transport fails.
type Responder interface {
	Respond(userText string) string
}

// Resetter is implemented by renderers that can drop everything they show.
// The engine calls it when the history is cleared.
type Resetter interface {
	Reset()
}

// Engine is the delivery state machine. One engine governs one conversation
// and accepts a new turn only while Idle; submissions made while a turn is in
// flight are dropped and reported as ErrTurnInFlight.
type Engine struct {
	transport domain.StreamTransport
	fallback  Responder
	log       domain.ConversationLog
	renderer  domain.Renderer
	cues      domain.Notifier

	logger       *slog.Logger
	now          func() time.Time
	newID        func() domain.TurnID
	sleep        func(ctx context.Context, d time.Duration) error
	rng          *rand.Rand
	delayMin     time.Duration
	delayMax     time.Duration
	contextTurns int
	hook         StateHook

	mu     sync.Mutex
	state  State
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDs(newID func() domain.TurnID) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithSleeper replaces the pacing delay used before a fallback reply.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithRand sets the randomness source for the fallback delay.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithFallbackDelay sets the range the fallback pacing delay is drawn from.
func WithFallbackDelay(min, max time.Duration) Option {
	return func(e *Engine) {
		e.delayMin = min
		e.delayMax = max
	}
}

func WithContextTurns(n int) Option {
	return func(e *Engine) { e.contextTurns = n }
}

func WithStateHook(h StateHook) Option {
	return func(e *Engine) { e.hook = h }
}

func New(
	transport domain.StreamTransport,
	fallback Responder,
	log domain.ConversationLog,
	renderer domain.Renderer,
	cues domain.Notifier,
	opts ...Option,
) *Engine {
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		transport:    transport,
		fallback:     fallback,
		log:          log,
		renderer:     renderer,
		cues:         cues,
		logger:       observability.Logger(),
		now:          time.Now,
		newID:        newTurnID,
		sleep:        sleepContext,
		rng:          rand.New(rand.NewPCG(seed, seed>>1|1)),
		delayMin:     time.Second,
		delayMax:     2 * time.Second,
		contextTurns: contextwindow.DefaultSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// State returns the current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Submit starts a turn for text. The user turn is committed before Submit
// returns; the assistant reply is produced in the background and sent on the
// returned channel, which is closed once the engine is Idle again. If the
// turn is abandoned the channel closes without a value.
//
// ctx only bounds the synchronous part. The turn itself lives until it
// finishes or the engine is closed.
func (e *Engine) Submit(ctx context.Context, text string) (<-chan domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.state.Busy() {
		e.logger.Debug("submission dropped, turn in flight", "state", e.state)
		e.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	e.transitionLocked(Dispatched)
	e.mu.Unlock()

	// the lock is not held for the log round trips; Dispatched already keeps
	// other submissions out. The window is taken before the user turn lands.
	history, err := e.log.All(ctx)
	if err != nil {
		e.logger.Warn("failed to read conversation log, sending without context", "error", err)
		history = nil
	}
	window := contextwindow.BuildN(history, e.contextTurns)

	userTurn := e.newTurn(domain.RoleUser, text)
	if err := e.log.Append(ctx, userTurn); err != nil {
		e.transition(Idle)
		return nil, err
	}
	e.render(func(r domain.Renderer) { r.CommitTurn(userTurn) })
	e.render(func(r domain.Renderer) { r.ShowPending() })

	// Close may have run meanwhile; wg.Go must not follow its Wait.
	e.mu.Lock()
	if e.closed {
		e.transitionLocked(Idle)
		e.mu.Unlock()
		e.render(func(r domain.Renderer) { r.ClearPending() })
		return nil, ErrClosed
	}
	done := make(chan domain.Turn, 1)
	turnCtx := e.ctx
	e.wg.Go(func() {
		e.run(turnCtx, window, text, done)
	})
	e.mu.Unlock()

	return done, nil
}

func (e *Engine) run(ctx context.Context, window []domain.ContextEntry, userText string, done chan<- domain.Turn) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("turn panicked, engine reset", "panic", r)
			e.transition(Idle)
		}
	}()

	start := e.now()
	placeholder := false

	onSnapshot := func(text string) {
		if ctx.Err() != nil {
			return
		}
		if !placeholder {
			placeholder = true
			e.transition(Streaming)
			e.render(func(r domain.Renderer) { r.ClearPending() })
			e.render(func(r domain.Renderer) { r.ShowStreamingPlaceholder() })
		}
		e.render(func(r domain.Renderer) { r.UpdateStreamingText(text) })
	}

	final, err := e.transport.Generate(ctx, window, userText, onSnapshot)
	if ctx.Err() != nil {
		e.abandon(placeholder)
		return
	}

	outcome := outcomeOf(final, err)
	if outcome.IsDelivered() {
		e.transition(Committing)
		if placeholder {
			e.render(func(r domain.Renderer) { r.RemovePlaceholder() })
		} else {
			e.render(func(r domain.Renderer) { r.ClearPending() })
		}
		turn := e.commitAssistant(ctx, outcome.Text)
		e.logger.Info("reply delivered",
			"source", "remote",
			"chars", len(turn.Text),
			"elapsed_ms", e.now().Sub(start).Milliseconds())
		e.transition(Idle)
		done <- turn
		return
	}

	e.logger.Warn("remote generation failed, falling back",
		"kind", outcome.Err.Kind,
		"status", outcome.Err.Status,
		"error", outcome.Err.Err)

	e.transition(FallingBack)
	if placeholder {
		// partial text never survives a failed stream
		e.render(func(r domain.Renderer) { r.RemovePlaceholder() })
	}

	reply := e.fallback.Respond(userText)
	if err := e.sleep(ctx, e.fallbackDelay()); err != nil || ctx.Err() != nil {
		e.abandon(false)
		return
	}

	e.transition(Committing)
	e.render(func(r domain.Renderer) { r.ClearPending() })
	turn := e.commitAssistant(ctx, reply)
	e.logger.Info("reply delivered",
		"source", "fallback",
		"chars", len(turn.Text),
		"elapsed_ms", e.now().Sub(start).Milliseconds())
	e.transition(Idle)
	done <- turn
}

// Announce commits an assistant turn that is not a reply to the user, such
// as a welcome or the daily affirmation.
func (e *Engine) Announce(ctx context.Context, text string) (domain.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Turn{}, ErrEmptyInput
	}
	if err := e.acquire(); err != nil {
		return domain.Turn{}, err
	}
	defer e.transition(Idle)

	turn := e.newTurn(domain.RoleAssistant, text)
	if err := e.log.Append(ctx, turn); err != nil {
		return domain.Turn{}, err
	}
	e.render(func(r domain.Renderer) { r.CommitTurn(turn) })
	e.notify(domain.CueMessage)
	return turn, nil
}

// Clear empties the conversation log and re-seeds it with welcome turns.
func (e *Engine) Clear(ctx context.Context, welcome ...string) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.transition(Idle)

	if err := e.log.Clear(ctx); err != nil {
		return err
	}
	if r, ok := e.renderer.(Resetter); ok {
		e.render(func(domain.Renderer) { r.Reset() })
	}

	for _, text := range welcome {
		turn := e.newTurn(domain.RoleAssistant, text)
		if err := e.log.Append(ctx, turn); err != nil {
			return err
		}
		e.render(func(r domain.Renderer) { r.CommitTurn(turn) })
	}
	e.notify(domain.CueClick)
	return nil
}

// Close stops consuming any in-flight stream, discards its placeholder and
// waits for the turn goroutine to exit. Nothing partial is committed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// acquire moves an Idle engine straight to Committing.
func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.state.Busy() {
		return ErrTurnInFlight
	}
	e.transitionLocked(Committing)
	return nil
}

func (e *Engine) abandon(placeholder bool) {
	e.logger.Info("turn abandoned")
	if placeholder {
		e.render(func(r domain.Renderer) { r.RemovePlaceholder() })
	} else {
		e.render(func(r domain.Renderer) { r.ClearPending() })
	}
	e.transition(Idle)
}

func (e *Engine) commitAssistant(ctx context.Context, text string) domain.Turn {
	turn := e.newTurn(domain.RoleAssistant, text)
	if err := e.log.Append(ctx, turn); err != nil {
		e.logger.Error("failed to append assistant turn", "turn_id", turn.ID, "error", err)
	}
	e.render(func(r domain.Renderer) { r.CommitTurn(turn) })
	e.notify(domain.CueMessage)
	return turn
}

func (e *Engine) newTurn(role domain.Role, text string) domain.Turn {
	return domain.Turn{
		ID:        e.newID(),
		Role:      role,
		Text:      text,
		Timestamp: e.now(),
	}
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitionLocked(to)
}

func (e *Engine) transitionLocked(to State) {
	from := e.state
	e.state = to
	e.logger.Debug("state transition", "from", from, "to", to)
	if e.hook != nil {
		e.hook(from, to)
	}
}

func (e *Engine) fallbackDelay() time.Duration {
	if e.delayMax <= e.delayMin {
		return e.delayMin
	}
	e.mu.Lock()
	jitter := e.rng.Int64N(int64(e.delayMax-e.delayMin) + 1)
	e.mu.Unlock()
	return e.delayMin + time.Duration(jitter)
}

// render shields the state machine from renderer panics.
func (e *Engine) render(fn func(domain.Renderer)) {
	if e.renderer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("renderer panicked", "panic", r)
		}
	}()
	fn(e.renderer)
}

func (e *Engine) notify(kind domain.CueKind) {
	if e.cues == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("cue notifier panicked", "cue", kind, "panic", r)
		}
	}()
	e.cues.Notify(kind)
}

func outcomeOf(final string, err error) domain.TurnOutcome {
	if err != nil {
		return domain.Failed(domain.AsTransportError(err))
	}
	if strings.TrimSpace(final) == "" {
		return domain.Failed(domain.NewTransportError(domain.RemoteError, 0, errEmptyReply))
	}
	return domain.Delivered(final)
}

// newTurnID returns a time-ordered ID so turns sharing a timestamp still
// sort in commit order.
func newTurnID() domain.TurnID {
	return domain.TurnID(uuid.Must(uuid.NewV7()).String())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
