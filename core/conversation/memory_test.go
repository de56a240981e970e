package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeConversations(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "betbot_conversations_active" {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("betbot_conversations_active not registered")
	return 0
}

func TestMemoryTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(10, time.Minute)

	_, err := tr.Get(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := tr.Begin(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, Builder{Stage: StageAwaitingStock}, b)

	b.Stock = "SET"
	b.Stage = StageAwaitingNumber
	require.NoError(t, tr.Set(ctx, "U1", b))

	got, err := tr.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.Equal(t, 1, tr.Len())

	again, err := tr.Begin(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, again.Stock, "begin discards collected fields")

	require.NoError(t, tr.Clear(ctx, "U1"))
	_, err = tr.Get(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, tr.Len())
}

func TestMemoryTrackerBounded(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(3, time.Minute)
	for i := 0; i < 5; i++ {
		_, err := tr.Begin(ctx, fmt.Sprintf("U%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tr.Len())

	_, err := tr.Get(ctx, "U0")
	assert.ErrorIs(t, err, ErrNotFound, "oldest conversation is evicted")
	_, err = tr.Get(ctx, "U4")
	assert.NoError(t, err)
}

func TestMemoryTrackerExpires(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(10, 20*time.Millisecond)
	_, err := tr.Begin(ctx, "U1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := tr.Get(ctx, "U1")
		return err == ErrNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestConversationGaugeTracksExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(2, 100*time.Millisecond)
	for _, u := range []string{"U1", "U2", "U3"} {
		_, err := tr.Begin(ctx, u)
		require.NoError(t, err)
	}
	assert.Equal(t, float64(2), activeConversations(t), "evicted entry is not counted")

	assert.Eventually(t, func() bool {
		return activeConversations(t) == 0
	}, time.Second, 10*time.Millisecond, "expired entries drop out without another write")
}

func TestBuilderComplete(t *testing.T) {
	assert.False(t, Builder{Stock: "SET", Number: "123"}.Complete())
	assert.True(t, Builder{Stock: "SET", Number: "123", Amount: 1}.Complete())
	assert.Equal(t, "awaiting_confirmation", StageAwaitingConfirmation.String())
}
