package queue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

func newTestManager(cfg Config) (*Manager, *testclock.FakeClock) {
	clk := testclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewManager(cfg, clk), clk
}

func userIDs(m *Manager) []string {
	var ids []string
	for _, e := range m.Entries() {
		ids = append(ids, e.UserID)
	}
	return ids
}

func TestEnqueue(t *testing.T) {
	m, _ := newTestManager(Config{})

	for i, u := range []string{"u1", "u2", "u3"} {
		pos, err := m.Enqueue(u)
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	_, err := m.Enqueue("u2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyQueued), "got %v", err)
	assert.Equal(t, 3, m.Len())
}

func TestEnqueue_MaxLength(t *testing.T) {
	m, _ := newTestManager(Config{MaxLength: 1})
	_, err := m.Enqueue("u1")
	require.NoError(t, err)
	assert.True(t, m.Full())

	_, err = m.Enqueue("u2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResourceExhausted))
}

func TestPositionsRecomputedAfterRemove(t *testing.T) {
	m, _ := newTestManager(Config{})
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		_, _ = m.Enqueue(u)
	}

	assert.True(t, m.Remove("u2"))
	assert.False(t, m.Remove("u2"))

	pos, ok := m.PositionOf("u3")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	pos, _ = m.PositionOf("u4")
	assert.Equal(t, 2, pos)
	_, ok = m.PositionOf("u2")
	assert.False(t, ok)

	for i, e := range m.Entries() {
		assert.Equal(t, i, e.Position)
	}
}

func TestDequeueNextIfPodFree_FIFO(t *testing.T) {
	m, _ := newTestManager(Config{})
	for _, u := range []string{"u1", "u2", "u3"} {
		_, _ = m.Enqueue(u)
	}

	free := 1
	var offered []string
	admitted := m.DequeueNextIfPodFree(func(userID string) bool {
		offered = append(offered, userID)
		if free == 0 {
			return false
		}
		free--
		return true
	})

	assert.Equal(t, []string{"u1"}, admitted)
	assert.Equal(t, []string{"u1", "u2"}, offered)
	if diff := cmp.Diff([]string{"u2", "u3"}, userIDs(m)); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
}

func TestDequeueNextIfPodFree_KeepsHeadAndEnqueueTime(t *testing.T) {
	m, clk := newTestManager(Config{})
	_, _ = m.Enqueue("u1")
	first := m.Entries()[0].EnqueuedAt
	clk.Step(time.Minute)
	_, _ = m.Enqueue("u2")

	admitted := m.DequeueNextIfPodFree(func(string) bool { return false })
	assert.Empty(t, admitted)

	entries := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.Equal(t, first, entries[0].EnqueuedAt)
}

func TestDequeueNextIfPodFree_DrainsAll(t *testing.T) {
	m, _ := newTestManager(Config{})
	for _, u := range []string{"u1", "u2"} {
		_, _ = m.Enqueue(u)
	}
	admitted := m.DequeueNextIfPodFree(func(string) bool { return true })
	assert.Equal(t, []string{"u1", "u2"}, admitted)
	assert.Zero(t, m.Len())
}

func TestEstimatedWait(t *testing.T) {
	m, _ := newTestManager(Config{AverageHold: 10 * time.Minute})
	for _, u := range []string{"u1", "u2", "u3"} {
		_, _ = m.Enqueue(u)
	}

	wait, ok := m.EstimatedWait("u1")
	require.True(t, ok)
	assert.Zero(t, wait)

	wait, _ = m.EstimatedWait("u3")
	assert.Equal(t, 20*time.Minute, wait)

	_, ok = m.EstimatedWait("nobody")
	assert.False(t, ok)
}

func TestObserveHold(t *testing.T) {
	m, _ := newTestManager(Config{AverageHold: 100 * time.Second})
	m.ObserveHold(200 * time.Second)
	assert.InDelta(t, float64(120*time.Second), float64(m.AverageHold()), float64(time.Millisecond))

	before := m.AverageHold()
	m.ObserveHold(0)
	assert.Equal(t, before, m.AverageHold())
}
