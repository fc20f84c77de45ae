package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/spec-kit/pod-racer/internal/events"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

func newTestLedger(t *testing.T) (*CreditLedger, *testclock.FakeClock, events.Dispatcher) {
	t.Helper()
	clk := testclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	d := events.NewInMemoryDispatcher()
	return New(clk, d), clk, d
}

func TestInitialize(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	user, err := l.Initialize(ctx, "alice", 3600)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.ID)
	assert.EqualValues(t, 3600, user.CreditsRemaining)

	_, err = l.Initialize(ctx, "alice", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyExists), "got %v", err)

	_, err = l.Initialize(ctx, "  ", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = l.Initialize(ctx, "bob", -1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestDebitToNow_AdvancesCheckpoint(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Initialize(ctx, "alice", 100)
	require.NoError(t, err)

	// Not metered yet: time passing costs nothing.
	clk.Step(30 * time.Second)
	charge, err := l.DebitToNow("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 100, charge.Remaining)

	require.NoError(t, l.StartMetering("alice"))
	clk.Step(10 * time.Second)
	charge, err = l.DebitToNow("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 90, charge.Remaining)

	// Same instant: nothing more to charge.
	charge, err = l.DebitToNow("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 90, charge.Remaining)

	_, err = l.DebitToNow("ghost")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestDebitToNow_CarriesSubSecondRemainder(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Initialize(ctx, "alice", 100)
	require.NoError(t, l.StartMetering("alice"))

	for i := 0; i < 4; i++ {
		clk.Step(500 * time.Millisecond)
		_, err := l.DebitToNow("alice")
		require.NoError(t, err)
	}
	user, err := l.User("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 98, user.CreditsRemaining)
}

func TestDebitToNow_ConcurrentPollersChargeOnce(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Initialize(ctx, "alice", 3600)
	require.NoError(t, l.StartMetering("alice"))

	for step := 0; step < 10; step++ {
		clk.Step(time.Second)
		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = l.DebitToNow("alice")
			}()
		}
		wg.Wait()
	}

	user, err := l.User("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3590, user.CreditsRemaining)
}

func TestDebitToNow_ClampsAndReportsExhaustion(t *testing.T) {
	l, clk, d := newTestLedger(t)
	ctx := context.Background()

	published := 0
	d.Subscribe(events.EventCreditsExhausted, func(context.Context, events.Event) error {
		published++
		return nil
	})

	_, _ = l.Initialize(ctx, "alice", 2)
	require.NoError(t, l.StartMetering("alice"))
	clk.Step(5 * time.Second)

	charge, err := l.DebitToNow("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, charge.Remaining)
	assert.True(t, charge.Exhausted)
	assert.True(t, l.IsExhausted("alice"))

	evts := charge.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.EventCreditsExhausted, evts[0].Type)
	assert.Equal(t, "alice", evts[0].UserID)
	assert.Equal(t, clk.Now(), evts[0].Timestamp)
	assert.Zero(t, published, "debits leave publishing to the caller")

	clk.Step(5 * time.Second)
	charge, _ = l.DebitToNow("alice")
	assert.False(t, charge.Exhausted, "exhaustion is reported once")
	assert.Empty(t, charge.Events())
}

func TestSetCredits(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.SetCredits(ctx, "ghost", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, _ = l.Initialize(ctx, "alice", 100)
	_, err = l.SetCredits(ctx, "alice", -5)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	require.NoError(t, l.StartMetering("alice"))
	clk.Step(7 * time.Second)
	got, err := l.SetCredits(ctx, "alice", 500)
	require.NoError(t, err)
	assert.EqualValues(t, 500, got)

	// The seven seconds before the override were charged, not carried over.
	clk.Step(3 * time.Second)
	charge, err := l.DebitToNow("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 497, charge.Remaining)
}

func TestBalance_IsReadOnly(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Initialize(ctx, "alice", 60)
	require.NoError(t, l.StartMetering("alice"))
	clk.Step(20 * time.Second)

	b, err := l.Balance("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 40, b)

	user, _ := l.User("alice")
	assert.EqualValues(t, 60, user.CreditsRemaining)

	charge, _ := l.DebitToNow("alice")
	assert.EqualValues(t, 40, charge.Remaining)
}

func TestStopMetering(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	_, _ = l.Initialize(ctx, "alice", 60)
	require.NoError(t, l.StartMetering("alice"))
	clk.Step(15 * time.Second)

	charge, err := l.StopMetering("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 45, charge.Remaining)
	assert.False(t, charge.Exhausted)

	clk.Step(time.Hour)
	charge, _ = l.DebitToNow("alice")
	assert.EqualValues(t, 45, charge.Remaining)
}
