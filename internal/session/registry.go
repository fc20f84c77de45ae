// Package session drives the per-user allocation state machine
// PENDING → QUEUED/RACING → ASSIGNED → CLOSED on top of the ledger, pool, race
// engine and queue.
//
// All transitions happen under a single registry mutex. Queue admission runs
// under the same mutex as pod release, so a freed pod and the next waiting user
// are matched atomically. The race itself runs outside the lock.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/events"
	"github.com/spec-kit/pod-racer/internal/ledger"
	"github.com/spec-kit/pod-racer/internal/observability"
	"github.com/spec-kit/pod-racer/internal/pool"
	"github.com/spec-kit/pod-racer/internal/queue"
	"github.com/spec-kit/pod-racer/internal/race"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

// View is a detached snapshot of a session plus the figures callers report.
type View struct {
	Session          *domain.Session
	CreditsRemaining int64
	Position         *int
	EstimatedWait    *time.Duration
}

// Registry is the only writer of session records.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session

	ledger     *ledger.CreditLedger
	pool       *pool.PodPool
	engine     *race.Engine
	queue      *queue.Manager
	dispatcher events.Dispatcher
	clock      clock.PassiveClock
	logger     *zap.Logger
	metrics    *observability.Metrics

	background sync.WaitGroup
}

// Dependencies bundles collaborators for NewRegistry.
type Dependencies struct {
	Ledger     *ledger.CreditLedger
	Pool       *pool.PodPool
	Engine     *race.Engine
	Queue      *queue.Manager
	Dispatcher events.Dispatcher
	Clock      clock.PassiveClock
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewRegistry creates a registry and subscribes it to credit exhaustion events.
func NewRegistry(deps Dependencies) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &Registry{
		sessions:   make(map[string]*domain.Session),
		ledger:     deps.Ledger,
		pool:       deps.Pool,
		engine:     deps.Engine,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if r.dispatcher != nil {
		r.dispatcher.Subscribe(events.EventCreditsExhausted, r.handleCreditsExhausted)
	}
	return r
}

// Start opens a session for userID and tries to allocate a pod right away. When
// candidates can be reserved Start blocks for the race; otherwise the session is
// queued. An active session yields a CONFLICT error together with its view.
func (r *Registry) Start(ctx context.Context, userID string) (View, error) {
	if !r.ledger.Exists(userID) {
		return View{}, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	if r.ledger.IsExhausted(userID) {
		return View{}, apperrors.NewInsufficientCredits(map[string]any{"user_id": userID})
	}

	r.mu.Lock()
	if cur := r.sessions[userID]; cur.IsActive() {
		view := r.viewLocked(cur)
		r.mu.Unlock()
		return view, apperrors.NewConflict("session already active", conflictDetails(view))
	}

	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     domain.SessionStatePending,
		CreatedAt: r.clock.Now(),
	}
	r.sessions[userID] = s

	// Pods freed outside the registry go to users already waiting; an arrival
	// only races when nobody is left in the queue.
	evts := r.admitWaitingLocked()
	var candidates []domain.Pod
	if r.queue.Len() == 0 {
		candidates = r.engine.Reserve(userID, 0)
	}
	if len(candidates) == 0 {
		evts = append(evts, r.enqueueLocked(s)...)
		view := r.viewLocked(s)
		r.mu.Unlock()
		events.PublishAll(ctx, r.dispatcher, evts...)
		return view, nil
	}
	s.State = domain.SessionStateRacing
	r.mu.Unlock()
	events.PublishAll(ctx, r.dispatcher, evts...)

	// A caller that goes away must not abort an allocation halfway.
	raceStart := r.clock.Now()
	outcome := r.engine.Run(context.WithoutCancel(ctx), userID, candidates)

	r.mu.Lock()
	evts = r.finishRaceLocked(s, outcome, raceStart)
	view := r.viewLocked(s)
	r.mu.Unlock()

	events.PublishAll(ctx, r.dispatcher, evts...)
	return view, nil
}

// Status reports the current session. Observing an ASSIGNED session advances
// billing and closes it once credits are exhausted.
func (r *Registry) Status(ctx context.Context, userID string) (View, error) {
	r.mu.Lock()
	s := r.sessions[userID]
	if s == nil {
		r.mu.Unlock()
		return View{}, apperrors.NewNotFound("session", map[string]any{"user_id": userID})
	}
	var evts []events.Event
	if s.State == domain.SessionStateAssigned {
		evts = r.debitLocked(s)
	}
	view := r.viewLocked(s)
	r.mu.Unlock()

	events.PublishAll(ctx, r.dispatcher, evts...)
	return view, nil
}

// QueueStatus reports the queue position of a waiting user.
func (r *Registry) QueueStatus(userID string) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[userID]
	if s == nil || s.State != domain.SessionStateQueued {
		return View{}, apperrors.NewNotFound("queue entry", map[string]any{"user_id": userID})
	}
	return r.viewLocked(s), nil
}

// Close ends the user's session. It is idempotent: unknown users and closed
// sessions succeed without side effects. The returned session is nil for users
// that never had one.
func (r *Registry) Close(ctx context.Context, userID string) (*domain.Session, error) {
	r.mu.Lock()
	s := r.sessions[userID]
	if !s.IsActive() {
		out := s.Clone()
		r.mu.Unlock()
		return out, nil
	}
	evts := r.closeLocked(s, domain.CloseReasonUser)
	evts = append(evts, r.admitWaitingLocked()...)
	out := s.Clone()
	r.mu.Unlock()

	events.PublishAll(ctx, r.dispatcher, evts...)
	return out, nil
}

// AssignCredits overrides the user's balance without touching the session.
func (r *Registry) AssignCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	return r.ledger.SetCredits(ctx, userID, amount)
}

// Sweep debits every ASSIGNED session, force-closes exhausted ones, returns
// drained pods whose cooldown ended and admits waiting users. It returns the
// number of sessions closed.
func (r *Registry) Sweep(ctx context.Context) int {
	restored := r.pool.RestoreDrained()
	if len(restored) > 0 {
		r.logger.Info("pods back from drain", zap.Strings("pod_ids", restored))
	}

	r.mu.Lock()
	var evts []events.Event
	closed := 0
	for _, s := range r.sessions {
		if s.State != domain.SessionStateAssigned {
			continue
		}
		evts = append(evts, r.debitLocked(s)...)
		if s.State == domain.SessionStateClosed {
			closed++
		}
	}
	evts = append(evts, r.admitWaitingLocked()...)
	r.mu.Unlock()

	events.PublishAll(ctx, r.dispatcher, evts...)
	return closed
}

// Get returns a copy of the user's latest session.
func (r *Registry) Get(userID string) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s.Clone(), ok
}

// Active returns copies of every non-CLOSED session.
func (r *Registry) Active() []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.IsActive() {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Wait blocks until background races and expiries have finished.
func (r *Registry) Wait() {
	r.background.Wait()
}

func (r *Registry) handleCreditsExhausted(_ context.Context, event events.Event) error {
	// Keep the publisher off the registry lock.
	r.background.Add(1)
	go func(userID string) {
		defer r.background.Done()
		r.expire(context.Background(), userID)
	}(event.UserID)
	return nil
}

// expire closes an ASSIGNED session whose balance is still zero.
func (r *Registry) expire(ctx context.Context, userID string) {
	r.mu.Lock()
	s := r.sessions[userID]
	if s == nil || s.State != domain.SessionStateAssigned || !r.ledger.IsExhausted(userID) {
		r.mu.Unlock()
		return
	}
	evts := r.closeLocked(s, domain.CloseReasonCreditsExhausted)
	evts = append(evts, r.admitWaitingLocked()...)
	r.mu.Unlock()

	events.PublishAll(ctx, r.dispatcher, evts...)
}

func (r *Registry) debitLocked(s *domain.Session) []events.Event {
	charge, err := r.ledger.DebitToNow(s.UserID)
	if err != nil {
		r.logger.Error("debit credits", zap.String("user_id", s.UserID), zap.Error(err))
		return nil
	}
	evts := charge.Events()
	if charge.Remaining > 0 {
		return evts
	}
	evts = append(evts, r.closeLocked(s, domain.CloseReasonCreditsExhausted)...)
	return append(evts, r.admitWaitingLocked()...)
}

func (r *Registry) enqueueLocked(s *domain.Session) []events.Event {
	pos, err := r.queue.Enqueue(s.UserID)
	if err != nil {
		r.logger.Info("queue rejected user", zap.String("user_id", s.UserID), zap.Error(err))
		return r.closeLocked(s, domain.CloseReasonNoPodsAvailable)
	}
	s.State = domain.SessionStateQueued
	r.logger.Info("session queued", zap.String("user_id", s.UserID), zap.Int("position", pos))
	return []events.Event{events.New(events.EventSessionQueued, s.UserID, r.clock.Now(), events.SessionQueuedPayload{
		SessionID: s.ID,
		Position:  pos,
	})}
}

// admitWaitingLocked hands idle pods to queued users in FIFO order and starts
// their races in the background.
func (r *Registry) admitWaitingLocked() []events.Event {
	var evts []events.Event
	r.queue.DequeueNextIfPodFree(func(userID string) bool {
		s := r.sessions[userID]
		if s == nil || s.State != domain.SessionStateQueued {
			return true
		}
		if r.ledger.IsExhausted(userID) {
			evts = append(evts, r.closeLocked(s, domain.CloseReasonCreditsExhausted)...)
			return true
		}
		// Leave pods for the users behind this one.
		limit := 0
		if r.queue.Len() > 0 {
			limit = 1
		}
		candidates := r.engine.Reserve(userID, limit)
		if len(candidates) == 0 {
			return false
		}
		s.State = domain.SessionStateRacing
		r.background.Add(1)
		go r.runQueuedRace(s, candidates)
		return true
	})
	return evts
}

func (r *Registry) runQueuedRace(s *domain.Session, candidates []domain.Pod) {
	defer r.background.Done()
	ctx := context.Background()
	raceStart := r.clock.Now()
	outcome := r.engine.Run(ctx, s.UserID, candidates)

	r.mu.Lock()
	evts := r.finishRaceLocked(s, outcome, raceStart)
	r.mu.Unlock()

	events.PublishAll(ctx, r.dispatcher, evts...)
}

func (r *Registry) finishRaceLocked(s *domain.Session, outcome race.Outcome, raceStart time.Time) []events.Event {
	now := r.clock.Now()
	participants := outcome.Participants()
	raced := events.RaceCompletedPayload{
		Outcome:      outcome.Kind(),
		Participants: participants,
		Duration:     now.Sub(raceStart),
	}
	if pf, ok := outcome.(race.PartialFailure); ok {
		raced.Failed = pf.Failed
	}
	s.PodsRaced = append([]string(nil), participants...)

	if s.State != domain.SessionStateRacing {
		// Closed while racing: nothing is kept.
		r.engine.Abandon(outcome)
		evts := []events.Event{events.New(events.EventRaceCompleted, s.UserID, now, raced)}
		return append(evts, r.admitWaitingLocked()...)
	}

	pod, won := race.WinningPod(outcome)
	r.engine.Settle(outcome)
	if won {
		raced.Winner = pod.ID
	}
	evts := []events.Event{events.New(events.EventRaceCompleted, s.UserID, now, raced)}

	if !won {
		evts = append(evts, r.closeLocked(s, domain.CloseReasonNoPodAssigned)...)
		return append(evts, r.admitWaitingLocked()...)
	}

	if err := r.ledger.StartMetering(s.UserID); err != nil {
		r.logger.Error("start metering", zap.String("user_id", s.UserID), zap.Error(err))
	}
	s.State = domain.SessionStateAssigned
	s.PodID = pod.ID
	s.PodType = pod.Type
	s.StartedAt = &now
	r.logger.Info("pod assigned",
		zap.String("user_id", s.UserID),
		zap.String("pod_id", pod.ID),
		zap.String("pod_type", pod.Type),
		zap.Strings("pods_raced", s.PodsRaced))

	evts = append(evts, events.New(events.EventSessionAssigned, s.UserID, now, events.SessionAssignedPayload{
		SessionID: s.ID,
		PodID:     pod.ID,
		PodType:   pod.Type,
		PodsRaced: s.PodsRaced,
	}))
	return append(evts, r.admitWaitingLocked()...)
}

// closeLocked moves an active session to CLOSED and gives back what it held.
// Callers follow up with admitWaitingLocked.
func (r *Registry) closeLocked(s *domain.Session, reason domain.CloseReason) []events.Event {
	var evts []events.Event
	now := r.clock.Now()
	switch s.State {
	case domain.SessionStateAssigned:
		charge, err := r.ledger.StopMetering(s.UserID)
		if err != nil {
			r.logger.Error("stop metering", zap.String("user_id", s.UserID), zap.Error(err))
		}
		evts = charge.Events()
		r.pool.Release(s.PodID)
		if s.StartedAt != nil {
			r.queue.ObserveHold(now.Sub(*s.StartedAt))
		}
	case domain.SessionStateQueued, domain.SessionStatePending:
		r.queue.Remove(s.UserID)
	case domain.SessionStateRacing:
		// The race owner abandons the candidates when it sees CLOSED.
	}

	s.State = domain.SessionStateClosed
	s.CloseReason = reason
	s.ClosedAt = &now
	r.metrics.RecordSessionClosed(reason)
	r.logger.Info("session closed",
		zap.String("user_id", s.UserID),
		zap.String("reason", string(reason)),
		zap.String("pod_id", s.PodID))

	remaining, _ := r.ledger.Balance(s.UserID)
	return append(evts, events.New(events.EventSessionClosed, s.UserID, now, events.SessionClosedPayload{
		Session:          s.Clone(),
		CreditsRemaining: remaining,
	}))
}

func (r *Registry) viewLocked(s *domain.Session) View {
	view := View{Session: s.Clone()}
	view.CreditsRemaining, _ = r.ledger.Balance(s.UserID)
	if s.State == domain.SessionStateQueued {
		if pos, ok := r.queue.PositionOf(s.UserID); ok {
			view.Position = &pos
			view.Session.QueuePosition = &pos
		}
		if wait, ok := r.queue.EstimatedWait(s.UserID); ok {
			view.EstimatedWait = &wait
		}
	}
	return view
}

func conflictDetails(view View) map[string]any {
	details := map[string]any{
		"user_id": view.Session.UserID,
		"state":   view.Session.State,
		"credits": view.CreditsRemaining,
	}
	if view.Session.PodID != "" {
		details["pod_id"] = view.Session.PodID
		details["pod_type"] = view.Session.PodType
	}
	if view.Position != nil {
		details["position"] = *view.Position
	}
	return details
}
