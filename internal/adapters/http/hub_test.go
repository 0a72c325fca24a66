package httpadapter_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/PabloGalante/riseup-agent/internal/adapters/http"
	"github.com/PabloGalante/riseup-agent/internal/domain"
)

func eventTypes(events []httpadapter.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestHubKeepsCommitBehindUpdateBurst(t *testing.T) {
	hub := httpadapter.NewHub()
	sub, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.ShowPending()
	hub.ClearPending()
	hub.ShowStreamingPlaceholder()
	for i := 1; i <= 80; i++ {
		hub.UpdateStreamingText("word " + strconv.Itoa(i))
	}
	hub.RemovePlaceholder()
	hub.CommitTurn(domain.Turn{ID: "t1", Role: domain.RoleAssistant, Text: "word 80"})
	hub.Notify(domain.CueMessage)

	select {
	case <-sub.Ready():
	default:
		t.Fatal("subscription was not signalled")
	}

	events := sub.Drain()
	assert.Equal(t, []string{
		httpadapter.EventPending,
		httpadapter.EventPendingCleared,
		httpadapter.EventPlaceholder,
		httpadapter.EventUpdate,
		httpadapter.EventPlaceholderRemoved,
		httpadapter.EventCommit,
		httpadapter.EventCue,
	}, eventTypes(events))
	assert.Equal(t, "word 80", events[3].Text)
	require.NotNil(t, events[5].Turn)
	assert.Equal(t, "word 80", events[5].Turn.Text)

	assert.Empty(t, sub.Drain())
}

func TestHubCoalescesOnlyAdjacentUpdates(t *testing.T) {
	hub := httpadapter.NewHub()
	sub, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.UpdateStreamingText("a")
	hub.UpdateStreamingText("ab")
	hub.RemovePlaceholder()
	hub.UpdateStreamingText("c")

	events := sub.Drain()
	assert.Equal(t, []string{
		httpadapter.EventUpdate,
		httpadapter.EventPlaceholderRemoved,
		httpadapter.EventUpdate,
	}, eventTypes(events))
	assert.Equal(t, "ab", events[0].Text)
	assert.Equal(t, "c", events[2].Text)
}

func TestHubStopsQueueingAfterUnsubscribe(t *testing.T) {
	hub := httpadapter.NewHub()
	sub, unsubscribe := hub.Subscribe()

	hub.ShowPending()
	unsubscribe()
	hub.Reset()

	assert.Empty(t, sub.Drain())
}
