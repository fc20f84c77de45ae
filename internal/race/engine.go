// Package race reserves candidate pods for a user and picks the one that comes up
// first. Losers go back to the pool; pods that fail their probe are drained.
package race

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/observability"
	"github.com/spec-kit/pod-racer/internal/pool"
)

// ErrNoCandidates is reported by NoneReady when nothing could be raced.
var ErrNoCandidates = errors.New("no candidate pods")

// Config tunes the race.
type Config struct {
	// Candidates is the number of pods reserved per race. Values below 1 mean 1.
	Candidates int
	// Timeout bounds a whole race.
	Timeout time.Duration
	// DrainCooldown is how long a pod that failed its probe stays out of rotation.
	DrainCooldown time.Duration
}

// Engine runs races against a PodPool.
type Engine struct {
	pool    *pool.PodPool
	prober  Prober
	cfg     Config
	clock   clock.PassiveClock
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Dependencies bundles collaborators for NewEngine.
type Dependencies struct {
	Pool    *pool.PodPool
	Prober  Prober
	Clock   clock.PassiveClock
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	if cfg.Candidates < 1 {
		cfg.Candidates = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Prober == nil {
		deps.Prober = ProberFunc(func(context.Context, domain.Pod) error { return nil })
	}
	return &Engine{
		pool:    deps.Pool,
		prober:  deps.Prober,
		cfg:     cfg,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
}

// Candidates returns the configured race size.
func (e *Engine) Candidates() int {
	return e.cfg.Candidates
}

// Reserve reserves up to limit idle pods for userID (limit <= 0 means the
// configured race size). Pods lost to concurrent reservations are skipped. An
// empty result means the pool has nothing idle and the caller should queue.
func (e *Engine) Reserve(userID string, limit int) []domain.Pod {
	if limit <= 0 || limit > e.cfg.Candidates {
		limit = e.cfg.Candidates
	}
	reserved := make([]domain.Pod, 0, limit)
	for pod := range e.pool.ListIdle() {
		if len(reserved) == limit {
			break
		}
		if err := e.pool.Reserve(pod.ID, userID); err != nil {
			continue
		}
		pod.State = domain.PodStateReserved
		pod.HeldBy = userID
		reserved = append(reserved, pod)
	}
	return reserved
}

type probeResult struct {
	pod domain.Pod
	err error
}

// Run races the reserved candidates. The first pod whose probe succeeds wins.
// Run does not settle pod state; the caller passes the outcome to Settle or
// Abandon.
func (e *Engine) Run(ctx context.Context, userID string, candidates []domain.Pod) Outcome {
	raced := make([]string, 0, len(candidates))
	for _, pod := range candidates {
		raced = append(raced, pod.ID)
	}
	if len(candidates) == 0 {
		return NoneReady{Raced: raced, Err: ErrNoCandidates}
	}

	start := e.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	results := make(chan probeResult, len(candidates))
	for _, pod := range candidates {
		if err := e.pool.MarkRacing(pod.ID); err != nil {
			results <- probeResult{pod: pod, err: fmt.Errorf("mark racing: %w", err)}
			continue
		}
		go func(pod domain.Pod) {
			results <- probeResult{pod: pod, err: e.prober.Probe(ctx, pod)}
		}(pod)
	}

	var outcome Outcome
	var failed []string
	var lastErr error
	for range candidates {
		res := <-results
		if res.err != nil {
			failed = append(failed, res.pod.ID)
			lastErr = res.err
			continue
		}
		res.pod.State = domain.PodStateRacing
		if len(failed) > 0 {
			outcome = PartialFailure{Pod: res.pod, Raced: raced, Failed: failed}
		} else {
			outcome = Winner{Pod: res.pod, Raced: raced}
		}
		break
	}
	if outcome == nil {
		outcome = NoneReady{Raced: raced, Err: lastErr}
	}

	elapsed := e.clock.Since(start)
	e.metrics.RecordRace(outcome.Kind(), elapsed)
	e.logger.Info("race finished",
		zap.String("user_id", userID),
		zap.String("outcome", outcome.Kind()),
		zap.Strings("pods_raced", raced),
		zap.Duration("elapsed", elapsed))
	return outcome
}

// Settle applies an outcome to the pool: the winner is assigned, other
// participants return to IDLE, and probe failures of a partial failure are
// drained. A NoneReady outcome releases every participant.
func (e *Engine) Settle(o Outcome) {
	switch v := o.(type) {
	case Winner:
		for _, id := range v.Raced {
			e.markAssigned(id, v.Pod.ID)
		}
	case PartialFailure:
		failed := make(map[string]struct{}, len(v.Failed))
		for _, id := range v.Failed {
			failed[id] = struct{}{}
		}
		for _, id := range v.Raced {
			if _, ok := failed[id]; ok {
				if err := e.pool.Drain(id, e.cfg.DrainCooldown); err != nil {
					e.logger.Warn("drain failed pod", zap.String("pod_id", id), zap.Error(err))
				}
				continue
			}
			e.markAssigned(id, v.Pod.ID)
		}
	case NoneReady:
		e.Abandon(v)
	}
}

// Abandon releases every participant, used when the session went away mid-race.
func (e *Engine) Abandon(o Outcome) {
	for _, id := range o.Participants() {
		e.pool.Release(id)
	}
}

func (e *Engine) markAssigned(podID, winner string) {
	if err := e.pool.MarkAssigned(podID, winner); err != nil {
		// The pod left the race underneath us; make sure it is not stranded.
		e.logger.Warn("settle race participant", zap.String("pod_id", podID), zap.Error(err))
		if podID != winner {
			e.pool.Release(podID)
		}
	}
}
