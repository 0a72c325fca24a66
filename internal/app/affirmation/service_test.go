package affirmation_test

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/riseup-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/riseup-agent/internal/app/affirmation"
	"github.com/PabloGalante/riseup-agent/internal/domain"
)

func TestDue_OncePerDay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)

	svc := affirmation.NewService(
		memory.NewAffirmationStore(),
		affirmation.WithClock(func() time.Time { return now }),
		affirmation.WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	sid := domain.SessionID("s1")

	text, ok, err := svc.Due(ctx, sid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(text, "🌟 **Daily Affirmation** 🌟\n\n\""))

	inPool := false
	for _, a := range affirmation.All() {
		if text == affirmation.Format(a) {
			inPool = true
		}
	}
	assert.True(t, inPool, "unexpected affirmation %q", text)

	require.NoError(t, svc.MarkShown(ctx, sid))

	_, ok, err = svc.Due(ctx, sid)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(24 * time.Hour)
	_, ok, err = svc.Due(ctx, sid)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDue_SessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := affirmation.NewService(memory.NewAffirmationStore())

	require.NoError(t, svc.MarkShown(ctx, "a"))

	_, ok, err := svc.Due(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDue_NilStoreNeverDue(t *testing.T) {
	svc := affirmation.NewService(nil)

	_, ok, err := svc.Due(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, svc.MarkShown(context.Background(), "x"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "🌟 **Daily Affirmation** 🌟\n\n\"Every day is a fresh start.\"", affirmation.Format("Every day is a fresh start."))
	assert.Len(t, affirmation.All(), 10)
}
