// Package pool owns the fixed set of pods and their state. Reserve is the single
// compare-and-swap point that keeps a pod held by at most one user.
package pool

import (
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/spec-kit/pod-racer/internal/domain"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

// PodPool is the only writer of pod state and holders.
type PodPool struct {
	mu    sync.RWMutex
	pods  []domain.Pod
	index map[string]int

	// cooldowns holds DRAINING pods until their entry expires.
	cooldowns *ttlcache.Cache[string, time.Time]
}

// New builds a pool with every pod IDLE. IDs must be unique.
func New(specs []domain.PodSpec) (*PodPool, error) {
	p := &PodPool{
		pods:  make([]domain.Pod, 0, len(specs)),
		index: make(map[string]int, len(specs)),
		cooldowns: ttlcache.New[string, time.Time](
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
	}
	for _, spec := range specs {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			return nil, fmt.Errorf("pool: pod id required")
		}
		if _, dup := p.index[id]; dup {
			return nil, fmt.Errorf("pool: duplicate pod id %q", id)
		}
		p.index[id] = len(p.pods)
		p.pods = append(p.pods, domain.Pod{ID: id, Type: spec.Type, State: domain.PodStateIdle})
	}
	return p, nil
}

// ListIdle returns the pods that were IDLE when it was called. The sequence is
// backed by a snapshot, so it can be ranged over repeatedly and is unaffected by
// later reservations.
func (p *PodPool) ListIdle() iter.Seq[domain.Pod] {
	p.mu.RLock()
	idle := make([]domain.Pod, 0, len(p.pods))
	for _, pod := range p.pods {
		if pod.State == domain.PodStateIdle {
			idle = append(idle, pod)
		}
	}
	p.mu.RUnlock()

	return func(yield func(domain.Pod) bool) {
		for _, pod := range idle {
			if !yield(pod) {
				return
			}
		}
	}
}

// Reserve moves an IDLE pod to RESERVED for userID.
func (p *PodPool) Reserve(podID, userID string) error {
	if userID == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pod, err := p.lookup(podID)
	if err != nil {
		return err
	}
	if pod.State != domain.PodStateIdle {
		return apperrors.NewConflict("pod not idle", map[string]any{
			"pod_id": podID,
			"state":  pod.State,
		})
	}
	pod.State = domain.PodStateReserved
	pod.HeldBy = userID
	return nil
}

// MarkRacing moves a RESERVED pod to RACING.
func (p *PodPool) MarkRacing(podID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pod, err := p.lookup(podID)
	if err != nil {
		return err
	}
	if pod.State != domain.PodStateReserved {
		return apperrors.NewConflict("pod not reserved", map[string]any{"pod_id": podID, "state": pod.State})
	}
	pod.State = domain.PodStateRacing
	return nil
}

// MarkAssigned settles one race participant: the winner becomes ASSIGNED, any
// other participant goes back to IDLE.
func (p *PodPool) MarkAssigned(podID, winnerPodID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pod, err := p.lookup(podID)
	if err != nil {
		return err
	}
	if pod.State != domain.PodStateReserved && pod.State != domain.PodStateRacing {
		return apperrors.NewConflict("pod not in a race", map[string]any{"pod_id": podID, "state": pod.State})
	}
	if podID == winnerPodID {
		pod.State = domain.PodStateAssigned
		return nil
	}
	pod.State = domain.PodStateIdle
	pod.HeldBy = ""
	return nil
}

// Release returns a pod to IDLE. Releasing an idle or unknown pod is a no-op.
// It reports whether the pod changed state.
func (p *PodPool) Release(podID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pod, err := p.lookup(podID)
	if err != nil || pod.State == domain.PodStateIdle {
		return false
	}
	if pod.State == domain.PodStateDraining {
		p.cooldowns.Delete(podID)
	}
	pod.State = domain.PodStateIdle
	pod.HeldBy = ""
	return true
}

// Drain takes a pod out of rotation for cooldown. A cooldown of zero or less
// puts the pod straight back to IDLE.
func (p *PodPool) Drain(podID string, cooldown time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pod, err := p.lookup(podID)
	if err != nil {
		return err
	}
	pod.HeldBy = ""
	if cooldown <= 0 {
		p.cooldowns.Delete(podID)
		pod.State = domain.PodStateIdle
		return nil
	}
	pod.State = domain.PodStateDraining
	p.cooldowns.Set(podID, time.Now().Add(cooldown), cooldown)
	return nil
}

// RestoreDrained returns DRAINING pods whose cooldown elapsed to IDLE.
func (p *PodPool) RestoreDrained() []string {
	p.mu.Lock()
	var restored []string
	for i := range p.pods {
		pod := &p.pods[i]
		if pod.State != domain.PodStateDraining {
			continue
		}
		if p.cooldowns.Get(pod.ID) != nil {
			continue
		}
		pod.State = domain.PodStateIdle
		restored = append(restored, pod.ID)
	}
	p.mu.Unlock()

	p.cooldowns.DeleteExpired()
	return restored
}

// Get returns a copy of a pod.
func (p *PodPool) Get(podID string) (domain.Pod, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[podID]
	if !ok {
		return domain.Pod{}, false
	}
	return p.pods[i], true
}

// Snapshot returns a copy of every pod in configuration order.
func (p *PodPool) Snapshot() []domain.Pod {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Pod(nil), p.pods...)
}

// Counts returns the number of pods per state. Every state is present.
func (p *PodPool) Counts() map[domain.PodState]int {
	counts := make(map[domain.PodState]int, len(domain.PodStates))
	for _, s := range domain.PodStates {
		counts[s] = 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pod := range p.pods {
		counts[pod.State]++
	}
	return counts
}

// IdleCount returns the number of IDLE pods.
func (p *PodPool) IdleCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, pod := range p.pods {
		if pod.State == domain.PodStateIdle {
			n++
		}
	}
	return n
}

// Size returns the number of pods.
func (p *PodPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pods)
}

func (p *PodPool) lookup(podID string) (*domain.Pod, error) {
	i, ok := p.index[podID]
	if !ok {
		return nil, apperrors.NewNotFound("pod", map[string]any{"pod_id": podID})
	}
	return &p.pods[i], nil
}
