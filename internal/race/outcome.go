package race

import "github.com/spec-kit/pod-racer/internal/domain"

// Outcome is the result of a race. It is one of Winner, PartialFailure or NoneReady.
type Outcome interface {
	// Participants lists every pod that entered the race, in reservation order.
	Participants() []string
	// Kind names the outcome for logs, metrics and events.
	Kind() string
	isOutcome()
}

// Winner means one pod reported ready and no candidate failed.
type Winner struct {
	Pod   domain.Pod
	Raced []string
}

// PartialFailure means one pod won but some candidates failed their probe first.
type PartialFailure struct {
	Pod    domain.Pod
	Raced  []string
	Failed []string
}

// NoneReady means no candidate reported ready before the deadline.
type NoneReady struct {
	Raced []string
	Err   error
}

func (w Winner) Participants() []string         { return w.Raced }
func (p PartialFailure) Participants() []string { return p.Raced }
func (n NoneReady) Participants() []string      { return n.Raced }

func (Winner) Kind() string         { return "winner" }
func (PartialFailure) Kind() string { return "partial_failure" }
func (NoneReady) Kind() string      { return "none_ready" }

func (Winner) isOutcome()         {}
func (PartialFailure) isOutcome() {}
func (NoneReady) isOutcome()      {}

// WinningPod returns the assigned pod for Winner and PartialFailure outcomes.
func WinningPod(o Outcome) (domain.Pod, bool) {
	switch v := o.(type) {
	case Winner:
		return v.Pod, true
	case PartialFailure:
		return v.Pod, true
	default:
		return domain.Pod{}, false
	}
}
