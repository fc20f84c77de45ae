package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testclock "k8s.io/utils/clock/testing"

	"github.com/spec-kit/pod-racer/internal/auth"
	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/events"
	"github.com/spec-kit/pod-racer/internal/ledger"
	"github.com/spec-kit/pod-racer/internal/observability"
	"github.com/spec-kit/pod-racer/internal/pool"
	"github.com/spec-kit/pod-racer/internal/queue"
	"github.com/spec-kit/pod-racer/internal/race"
	"github.com/spec-kit/pod-racer/internal/repository"
	"github.com/spec-kit/pod-racer/internal/session"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

type fixture struct {
	svc        *PodService
	dispatcher events.Dispatcher
	clock      *testclock.FakeClock
	registry   *session.Registry
}

func newFixture(t *testing.T, types ...string) *fixture {
	t.Helper()
	specs := make([]domain.PodSpec, 0, len(types))
	for _, typ := range types {
		specs = append(specs, domain.PodSpec{ID: "pod-" + typ, Type: typ})
	}
	p, err := pool.New(specs)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	clk := testclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	l := ledger.New(clk, dispatcher)

	// Pods come up in configuration order.
	prober := race.ProberFunc(func(ctx context.Context, pod domain.Pod) error {
		if pod.ID == specs[0].ID {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	})
	engine := race.NewEngine(race.Config{Candidates: 2, Timeout: time.Second}, race.Dependencies{
		Pool: p, Prober: prober, Logger: logger, Metrics: metrics,
	})
	registry := session.NewRegistry(session.Dependencies{
		Ledger:     l,
		Pool:       p,
		Engine:     engine,
		Queue:      queue.NewManager(queue.Config{}, clk),
		Dispatcher: dispatcher,
		Clock:      clk,
		Logger:     logger,
		Metrics:    metrics,
	})
	t.Cleanup(registry.Wait)

	svc := NewPodService(PodDependencies{
		Ledger:         l,
		Pool:           p,
		Registry:       registry,
		Tokens:         auth.NewTokenManager("secret", time.Hour, clk),
		Metrics:        metrics,
		Logger:         logger,
		InitialCredits: domain.DefaultInitialCredits,
	})
	return &fixture{svc: svc, dispatcher: dispatcher, clock: clk, registry: registry}
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()

	user, token, err := f.svc.CreateUser(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.EqualValues(t, 3600, user.CreditsRemaining)
	require.NotNil(t, token)
	assert.Equal(t, user.ID, token.SubjectID)

	named, _, err := f.svc.CreateUser(ctx, "  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", named.ID)

	_, _, err = f.svc.CreateUser(ctx, "alice")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyExists))
}

func TestEndToEndThroughService(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	user, _, err := f.svc.CreateUser(ctx, "")
	require.NoError(t, err)

	view, err := f.svc.StartPod(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, StartStatus(view.Session))
	assert.Equal(t, "A", view.Session.PodType)
	assert.Len(t, view.Session.PodsRaced, 2)

	_, err = f.svc.StartPod(ctx, user.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	f.clock.Step(10 * time.Second)
	view, err = f.svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, SessionStatus(view.Session))
	assert.EqualValues(t, 3590, view.CreditsRemaining)

	credits, err := f.svc.GetCredits(user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3590, credits)

	closed, counts, err := f.svc.Close(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateClosed, closed.State)
	assert.Equal(t, 2, counts[domain.PodStateIdle])

	_, counts, err = f.svc.Close(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.PodStateIdle])

	view, err = f.svc.Status(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, SessionStatus(view.Session))
}

func TestValidation(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()

	_, err := f.svc.StartPod(ctx, " ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = f.svc.Status(ctx, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = f.svc.GetCredits("ghost")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	_, err = f.svc.AssignCredits(ctx, "ghost", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestStatusLabels(t *testing.T) {
	cases := []struct {
		session     *domain.Session
		start, poll string
	}{
		{nil, StatusClosed, StatusClosed},
		{&domain.Session{State: domain.SessionStateQueued}, StatusQueued, StatusQueued},
		{&domain.Session{State: domain.SessionStateRacing}, "racing", "racing"},
		{&domain.Session{State: domain.SessionStateClosed, CloseReason: domain.CloseReasonNoPodAssigned}, StatusNoPodAssigned, StatusNoPodAssigned},
		{&domain.Session{State: domain.SessionStateClosed, CloseReason: domain.CloseReasonNoPodsAvailable}, StatusNoPodsAvailable, StatusClosed},
		{&domain.Session{State: domain.SessionStateClosed, CloseReason: domain.CloseReasonCreditsExhausted}, StatusClosed, StatusClosed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.start, StartStatus(tc.session))
		assert.Equal(t, tc.poll, SessionStatus(tc.session))
	}
}

func TestRestoreUsers(t *testing.T) {
	f := newFixture(t, "A")
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	require.NoError(t, users.Upsert(ctx, domain.User{ID: "old", CreditsRemaining: 42}))
	persistence := NewPersistenceService(users, repository.NewMemorySessionRepository(), zaptest.NewLogger(t))

	n, err := f.svc.RestoreUsers(ctx, persistence)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	credits, err := f.svc.GetCredits("old")
	require.NoError(t, err)
	assert.EqualValues(t, 42, credits)
}
