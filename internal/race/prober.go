package race

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/spec-kit/pod-racer/internal/domain"
)

// ErrProbeFailed is returned by probers when a pod does not come up.
var ErrProbeFailed = errors.New("pod failed readiness probe")

// Prober checks whether a candidate pod is ready to serve. It must return
// promptly once ctx is done.
type Prober interface {
	Probe(ctx context.Context, pod domain.Pod) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, pod domain.Pod) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, pod domain.Pod) error {
	return f(ctx, pod)
}

// SimulatedProber stands in for real provisioning: each pod becomes ready after a
// random delay in [MinDelay, MaxDelay], or fails with probability FailureRate.
type SimulatedProber struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProber builds a prober seeded from the wall clock.
func NewSimulatedProber(minDelay, maxDelay time.Duration, failureRate float64) *SimulatedProber {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimulatedProber{
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Probe waits for the simulated readiness delay.
func (s *SimulatedProber) Probe(ctx context.Context, _ domain.Pod) error {
	s.mu.Lock()
	delay := s.MinDelay
	if span := s.MaxDelay - s.MinDelay; span > 0 {
		delay += time.Duration(s.rng.Int63n(int64(span) + 1))
	}
	fail := s.FailureRate > 0 && s.rng.Float64() < s.FailureRate
	s.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if fail {
		return ErrProbeFailed
	}
	return nil
}
