// Package worker holds the background loops run next to the HTTP server.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/observability"
)

// Sweepable debits active sessions and closes exhausted ones.
type Sweepable interface {
	Sweep(ctx context.Context) int
}

// PodCounter reports pool occupancy.
type PodCounter interface {
	Counts() map[domain.PodState]int
}

// QueueLength reports how many users wait.
type QueueLength interface {
	Len() int
}

// Sweeper periodically sweeps sessions and refreshes the pool and queue gauges.
type Sweeper struct {
	target   Sweepable
	pods     PodCounter
	queue    QueueLength
	metrics  *observability.Metrics
	clock    clock.WithTicker
	interval time.Duration
	logger   *zap.Logger
}

// SweeperDependencies bundles collaborators for the sweeper.
type SweeperDependencies struct {
	Target  Sweepable
	Pods    PodCounter
	Queue   QueueLength
	Metrics *observability.Metrics
	Clock   clock.WithTicker
	Logger  *zap.Logger
}

// NewSweeper creates a sweeper ticking every interval.
func NewSweeper(interval time.Duration, deps SweeperDependencies) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Sweeper{
		target:   deps.Target,
		pods:     deps.Pods,
		queue:    deps.Queue,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		interval: interval,
		logger:   deps.Logger,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick runs a single sweep.
func (s *Sweeper) Tick(ctx context.Context) {
	if closed := s.target.Sweep(ctx); closed > 0 {
		s.logger.Info("sweep closed exhausted sessions", zap.Int("count", closed))
	}
	if s.pods != nil {
		s.metrics.SetPodStates(s.pods.Counts())
	}
	if s.queue != nil {
		s.metrics.SetQueueLength(s.queue.Len())
	}
}
