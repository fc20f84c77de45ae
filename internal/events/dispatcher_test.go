package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDispatcher_PublishRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var got []string
	d.Subscribe(EventSessionClosed, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.UserID)
		return errors.New("first failed")
	})
	d.Subscribe(EventSessionClosed, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.UserID)
		return errors.New("second failed")
	})

	err := d.Publish(context.Background(), New(EventSessionClosed, "alice", time.Now(), nil))
	require.EqualError(t, err, "first failed")
	assert.Equal(t, []string{"first:alice", "second:alice"}, got)

	assert.NoError(t, d.Publish(context.Background(), New(EventUserCreated, "alice", time.Now(), nil)))
}

func TestNew_AssignsIDs(t *testing.T) {
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := New(EventCreditsChanged, "u", at, CreditsPayload{CreditsRemaining: 5})
	b := New(EventCreditsChanged, "u", at, CreditsPayload{CreditsRemaining: 5})
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, at, a.Timestamp)
}

func TestPublishAll(t *testing.T) {
	PublishAll(context.Background(), nil, New(EventUserCreated, "u", time.Now(), nil))

	d := NewInMemoryDispatcher()
	var order []EventType
	for _, typ := range AllEventTypes {
		d.Subscribe(typ, func(_ context.Context, e Event) error {
			order = append(order, e.Type)
			return nil
		})
	}
	PublishAll(context.Background(), d,
		New(EventRaceCompleted, "u", time.Now(), nil),
		New(EventSessionAssigned, "u", time.Now(), nil))
	assert.Equal(t, []EventType{EventRaceCompleted, EventSessionAssigned}, order)
}

func TestRedisRelay_DisabledWithoutClient(t *testing.T) {
	d := NewInMemoryDispatcher()
	relay := NewRedisRelay(nil, "", zaptest.NewLogger(t))
	assert.Equal(t, DefaultRedisChannel, relay.channel)
	relay.Register(d)
	assert.NoError(t, d.Publish(context.Background(), New(EventUserCreated, "u", time.Now(), nil)))
}
