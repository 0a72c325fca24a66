package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/riseup-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/riseup-agent/internal/app/delivery"
	"github.com/PabloGalante/riseup-agent/internal/app/fallback"
	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

// ─────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────

type scriptedTransport struct {
	snapshots []string
	err       error
	block     chan struct{} // when set, Generate waits for it after the snapshots

	mu      sync.Mutex
	windows [][]domain.ContextEntry
	texts   []string
}

func (s *scriptedTransport) Generate(
	ctx context.Context,
	window []domain.ContextEntry,
	userText string,
	onSnapshot domain.SnapshotFunc,
) (string, error) {
	s.mu.Lock()
	s.windows = append(s.windows, window)
	s.texts = append(s.texts, userText)
	s.mu.Unlock()

	last := ""
	for _, snap := range s.snapshots {
		onSnapshot(snap)
		last = snap
	}

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", domain.NewTransportError(domain.NetworkFailure, 0, ctx.Err())
		}
	}

	if s.err != nil {
		return "", s.err
	}
	return last, nil
}

type recordingRenderer struct {
	mu      sync.Mutex
	events  []string
	updates []string
	commits []domain.Turn
}

func (r *recordingRenderer) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRenderer) ShowPending()              { r.add("pending") }
func (r *recordingRenderer) ClearPending()             { r.add("pending-cleared") }
func (r *recordingRenderer) ShowStreamingPlaceholder() { r.add("placeholder") }
func (r *recordingRenderer) RemovePlaceholder()        { r.add("placeholder-removed") }
func (r *recordingRenderer) Reset()                    { r.add("reset") }

func (r *recordingRenderer) UpdateStreamingText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "update")
	r.updates = append(r.updates, text)
}

func (r *recordingRenderer) CommitTurn(turn domain.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "commit:"+string(turn.Role))
	r.commits = append(r.commits, turn)
}

func (r *recordingRenderer) snapshot() ([]string, []string, []domain.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...),
		append([]string(nil), r.updates...),
		append([]domain.Turn(nil), r.commits...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	cues  []domain.CueKind
	panic bool
}

func (n *recordingNotifier) Notify(kind domain.CueKind) {
	n.mu.Lock()
	n.cues = append(n.cues, kind)
	n.mu.Unlock()
	if n.panic {
		panic("speaker unplugged")
	}
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.cues)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type harness struct {
	engine    *delivery.Engine
	log       domain.SessionLog
	renderer  *recordingRenderer
	notifier  *recordingNotifier
	sleeper   *sleepRecorder
	transport *scriptedTransport
}

func newHarness(t *testing.T, transport *scriptedTransport, opts ...delivery.Option) *harness {
	t.Helper()

	h := &harness{
		log:       domain.SessionLog{SessionID: "test", Store: memory.NewTurnStore()},
		renderer:  &recordingRenderer{},
		notifier:  &recordingNotifier{},
		sleeper:   &sleepRecorder{},
		transport: transport,
	}

	base := []delivery.Option{
		delivery.WithLogger(observability.Discard()),
		delivery.WithSleeper(h.sleeper.sleep),
		delivery.WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	h.engine = delivery.New(
		transport,
		fallback.NewResponder(rand.New(rand.NewPCG(3, 4))),
		h.log,
		h.renderer,
		h.notifier,
		append(base, opts...)...,
	)
	t.Cleanup(h.engine.Close)
	return h
}

func await(t *testing.T, done <-chan domain.Turn) (domain.Turn, bool) {
	t.Helper()
	select {
	case turn, ok := <-done:
		return turn, ok
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish in time")
		return domain.Turn{}, false
	}
}

func (h *harness) turns(t *testing.T) []domain.Turn {
	t.Helper()
	turns, err := h.log.All(context.Background())
	require.NoError(t, err)
	return turns
}

// ─────────────────────────────────────────────
// Scenarios
// ─────────────────────────────────────────────

func TestStreamedReplyIsCommittedOnce(t *testing.T) {
	h := newHarness(t, &scriptedTransport{snapshots: []string{"Hel", "Hello", "Hello there!"}})

	done, err := h.engine.Submit(context.Background(), "hi")
	require.NoError(t, err)

	turn, ok := await(t, done)
	require.True(t, ok)
	assert.Equal(t, "Hello there!", turn.Text)
	assert.Equal(t, domain.RoleAssistant, turn.Role)

	events, updates, commits := h.renderer.snapshot()
	assert.Equal(t, []string{"Hel", "Hello", "Hello there!"}, updates)
	assert.Equal(t, []string{
		"commit:user",
		"pending",
		"pending-cleared",
		"placeholder",
		"update", "update", "update",
		"placeholder-removed",
		"commit:assistant",
	}, events)
	require.Len(t, commits, 2)

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, "Hello there!", turns[1].Text)

	assert.Equal(t, 1, h.notifier.count())
	assert.Empty(t, h.sleeper.delays)
	assert.Equal(t, delivery.Idle, h.engine.State())
}

func TestCredentialRejectedFallsBackAfterDelay(t *testing.T) {
	rejected := domain.NewTransportError(domain.CredentialRejected, 403, errors.New("API key invalid"))
	h := newHarness(t, &scriptedTransport{err: rejected})

	done, err := h.engine.Submit(context.Background(), "I feel sad and stressed")
	require.NoError(t, err)

	turn, ok := await(t, done)
	require.True(t, ok)
	assert.Contains(t, fallback.Replies(fallback.Sad), turn.Text)

	events, updates, _ := h.renderer.snapshot()
	assert.Empty(t, updates)
	assert.Equal(t, []string{"commit:user", "pending", "pending-cleared", "commit:assistant"}, events)

	require.Len(t, h.sleeper.delays, 1)
	assert.GreaterOrEqual(t, h.sleeper.delays[0], time.Second)
	assert.LessOrEqual(t, h.sleeper.delays[0], 2*time.Second)

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, turn, turns[1])
	assert.Equal(t, 1, h.notifier.count())
}

func TestFailureAfterPartialTextRollsBackPlaceholder(t *testing.T) {
	h := newHarness(t, &scriptedTransport{
		snapshots: []string{"I hear", "I hear you"},
		err:       domain.NewTransportError(domain.NetworkFailure, 0, errors.New("connection reset")),
	})

	done, err := h.engine.Submit(context.Background(), "hello")
	require.NoError(t, err)

	turn, ok := await(t, done)
	require.True(t, ok)
	assert.Contains(t, fallback.Replies(fallback.Default), turn.Text)

	events, _, _ := h.renderer.snapshot()
	assert.Equal(t, []string{
		"commit:user",
		"pending",
		"pending-cleared",
		"placeholder",
		"update", "update",
		"placeholder-removed",
		"pending-cleared",
		"commit:assistant",
	}, events)

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.NotEqual(t, "I hear you", turns[1].Text)
}

func TestEmptyFinalTextFallsBack(t *testing.T) {
	h := newHarness(t, &scriptedTransport{})

	done, err := h.engine.Submit(context.Background(), "I reached my goal")
	require.NoError(t, err)

	turn, ok := await(t, done)
	require.True(t, ok)
	assert.Contains(t, fallback.Replies(fallback.Motivation), turn.Text)
	assert.Len(t, h.sleeper.delays, 1)
}

func TestUntypedTransportErrorStillFallsBack(t *testing.T) {
	h := newHarness(t, &scriptedTransport{err: errors.New("boom")})

	done, err := h.engine.Submit(context.Background(), "hey")
	require.NoError(t, err)

	turn, ok := await(t, done)
	require.True(t, ok)
	assert.NotEmpty(t, turn.Text)
}

func TestSubmitWhileTurnInFlightIsDropped(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, &scriptedTransport{snapshots: []string{"Thinking"}, block: release})

	done, err := h.engine.Submit(context.Background(), "first")
	require.NoError(t, err)

	_, err = h.engine.Submit(context.Background(), "second")
	require.ErrorIs(t, err, delivery.ErrTurnInFlight)

	turns := h.turns(t)
	require.Len(t, turns, 1)
	assert.Equal(t, "first", turns[0].Text)

	close(release)
	turn, ok := await(t, done)
	require.True(t, ok)
	assert.Equal(t, "Thinking", turn.Text)

	turns = h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, []string{"first"}, h.transport.texts)
}

func TestEmptySubmissionIsRejected(t *testing.T) {
	h := newHarness(t, &scriptedTransport{snapshots: []string{"x"}})

	_, err := h.engine.Submit(context.Background(), "   \n")
	require.ErrorIs(t, err, delivery.ErrEmptyInput)
	assert.Empty(t, h.turns(t))
	assert.Equal(t, delivery.Idle, h.engine.State())
}

func TestWindowIsTakenBeforeUserTurn(t *testing.T) {
	transport := &scriptedTransport{snapshots: []string{"ok"}}
	h := newHarness(t, transport)

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, h.log.Append(ctx, domain.Turn{ID: domain.TurnID(fmt.Sprint(i)), Role: role, Text: fmt.Sprintf("turn %d", i)}))
	}

	done, err := h.engine.Submit(ctx, "newest")
	require.NoError(t, err)
	await(t, done)

	require.Len(t, transport.windows, 1)
	window := transport.windows[0]
	require.Len(t, window, 10)
	assert.Equal(t, "turn 2", window[0].Text)
	assert.Equal(t, "turn 11", window[9].Text)
	assert.Equal(t, []string{"newest"}, transport.texts)
}

func TestStateIntervalsNeverOverlap(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions [][2]delivery.State
	)
	hook := func(from, to delivery.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]delivery.State{from, to})
	}

	h := newHarness(t, &scriptedTransport{snapshots: []string{"a", "ab"}}, delivery.WithStateHook(hook))

	var (
		wg       sync.WaitGroup
		accepted sync.WaitGroup
		okCount  int
		countMu  sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := h.engine.Submit(context.Background(), fmt.Sprintf("message %d", i))
			if err != nil {
				return
			}
			accepted.Add(1)
			countMu.Lock()
			okCount++
			countMu.Unlock()
			go func() {
				defer accepted.Done()
				<-done
			}()
		}(i)
	}
	wg.Wait()
	accepted.Wait()

	mu.Lock()
	defer mu.Unlock()

	dispatched := 0
	for _, tr := range transitions {
		if tr[1] == delivery.Dispatched {
			dispatched++
			assert.Equal(t, delivery.Idle, tr[0], "a turn started while another was active")
		}
	}
	assert.Equal(t, okCount, dispatched)
	assert.GreaterOrEqual(t, okCount, 1)
	assert.Len(t, h.turns(t), okCount*2)
}

func TestCloseAbandonsInFlightTurn(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, &scriptedTransport{snapshots: []string{"partial"}, block: release})

	done, err := h.engine.Submit(context.Background(), "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.engine.State() == delivery.Streaming
	}, time.Second, 5*time.Millisecond)

	h.engine.Close()

	_, ok := await(t, done)
	assert.False(t, ok, "no turn may be committed after close")

	turns := h.turns(t)
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleUser, turns[0].Role)

	events, _, _ := h.renderer.snapshot()
	assert.Equal(t, "placeholder-removed", events[len(events)-1])

	_, err = h.engine.Submit(context.Background(), "again")
	require.ErrorIs(t, err, delivery.ErrClosed)
}

func TestCloseDuringFallbackDelayCommitsNothing(t *testing.T) {
	h := newHarness(t, &scriptedTransport{err: domain.NewTransportError(domain.RemoteError, 500, errors.New("boom"))})

	started := make(chan struct{})
	blockingSleep := func(ctx context.Context, d time.Duration) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	h.engine = delivery.New(h.transport, fallback.NewResponder(nil), h.log, h.renderer, h.notifier,
		delivery.WithLogger(observability.Discard()),
		delivery.WithSleeper(blockingSleep))

	done, err := h.engine.Submit(context.Background(), "hello")
	require.NoError(t, err)
	<-started
	h.engine.Close()

	_, ok := await(t, done)
	assert.False(t, ok)
	assert.Len(t, h.turns(t), 1)
}

func TestNotifierPanicDoesNotWedgeEngine(t *testing.T) {
	h := newHarness(t, &scriptedTransport{snapshots: []string{"hey"}})
	h.notifier.panic = true

	for i := 0; i < 2; i++ {
		done, err := h.engine.Submit(context.Background(), "ping")
		require.NoError(t, err)
		_, ok := await(t, done)
		require.True(t, ok)
	}
	assert.Len(t, h.turns(t), 4)
	assert.Equal(t, 2, h.notifier.count())
}

func TestAnnounceAndClear(t *testing.T) {
	h := newHarness(t, &scriptedTransport{snapshots: []string{"reply"}})
	ctx := context.Background()

	turn, err := h.engine.Announce(ctx, "Welcome back!")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, turn.Role)

	done, err := h.engine.Submit(ctx, "hi")
	require.NoError(t, err)
	await(t, done)
	require.Len(t, h.turns(t), 3)

	require.NoError(t, h.engine.Clear(ctx, "Hello!", "How are you feeling today?"))

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello!", turns[0].Text)
	assert.Equal(t, "How are you feeling today?", turns[1].Text)

	events, _, _ := h.renderer.snapshot()
	assert.Contains(t, events, "reset")

	h.notifier.mu.Lock()
	last := h.notifier.cues[len(h.notifier.cues)-1]
	h.notifier.mu.Unlock()
	assert.Equal(t, domain.CueClick, last)
}

func TestAnnounceRejectedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, &scriptedTransport{block: release, snapshots: []string{"x"}})

	done, err := h.engine.Submit(context.Background(), "hi")
	require.NoError(t, err)

	_, err = h.engine.Announce(context.Background(), "affirmation")
	require.ErrorIs(t, err, delivery.ErrTurnInFlight)
	require.ErrorIs(t, h.engine.Clear(context.Background()), delivery.ErrTurnInFlight)

	close(release)
	await(t, done)
}

// slowStore blocks the first user turn append until release is closed.
type slowStore struct {
	*memory.TurnStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newSlowStore() *slowStore {
	return &slowStore{
		TurnStore: memory.NewTurnStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (s *slowStore) AppendTurn(ctx context.Context, sessionID domain.SessionID, turn domain.Turn) error {
	if turn.Role == domain.RoleUser {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.TurnStore.AppendTurn(ctx, sessionID, turn)
}

func newSlowEngine(t *testing.T, store *slowStore) *delivery.Engine {
	t.Helper()
	e := delivery.New(
		&scriptedTransport{snapshots: []string{"ok"}},
		fallback.NewResponder(rand.New(rand.NewPCG(3, 4))),
		domain.SessionLog{SessionID: "slow", Store: store},
		nil,
		nil,
		delivery.WithLogger(observability.Discard()),
		delivery.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	t.Cleanup(e.Close)
	return e
}

func TestStateIsReadableWhileUserTurnIsStored(t *testing.T) {
	store := newSlowStore()
	e := newSlowEngine(t, store)

	type result struct {
		done <-chan domain.Turn
		err  error
	}
	submitted := make(chan result, 1)
	go func() {
		done, err := e.Submit(context.Background(), "hello")
		submitted <- result{done, err}
	}()
	<-store.entered

	state := make(chan delivery.State, 1)
	go func() { state <- e.State() }()
	select {
	case got := <-state:
		assert.Equal(t, delivery.Dispatched, got)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind the log write")
	}

	_, err := e.Submit(context.Background(), "again")
	require.ErrorIs(t, err, delivery.ErrTurnInFlight)

	close(store.release)
	res := <-submitted
	require.NoError(t, res.err)
	turn, ok := await(t, res.done)
	require.True(t, ok)
	assert.Equal(t, "ok", turn.Text)
}

func TestCloseWhileUserTurnIsStored(t *testing.T) {
	store := newSlowStore()
	e := newSlowEngine(t, store)

	submitted := make(chan error, 1)
	go func() {
		_, err := e.Submit(context.Background(), "hello")
		submitted <- err
	}()
	<-store.entered

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind the log write")
	}

	close(store.release)
	require.ErrorIs(t, <-submitted, delivery.ErrClosed)
	assert.Equal(t, delivery.Idle, e.State())
}

func TestDefaultTurnIDsFollowCommitOrder(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, &scriptedTransport{}, delivery.WithClock(func() time.Time { return fixed }))

	for i := range 20 {
		_, err := h.engine.Announce(context.Background(), fmt.Sprintf("note %d", i))
		require.NoError(t, err)
	}

	turns := h.turns(t)
	require.Len(t, turns, 20)
	for i := 1; i < len(turns); i++ {
		assert.Equal(t, turns[i-1].Timestamp, turns[i].Timestamp)
		assert.Less(t, string(turns[i-1].ID), string(turns[i].ID), "turn %d", i)
	}
}
