package domain

// PodState represents the lifecycle of a pod inside the pool.
type PodState string

const (
	PodStateIdle     PodState = "IDLE"
	PodStateReserved PodState = "RESERVED"
	PodStateRacing   PodState = "RACING"
	PodStateAssigned PodState = "ASSIGNED"
	PodStateDraining PodState = "DRAINING"
)

// PodStates lists every state in a stable order.
var PodStates = []PodState{
	PodStateIdle,
	PodStateReserved,
	PodStateRacing,
	PodStateAssigned,
	PodStateDraining,
}

// Held reports whether pods in this state must carry a holder.
func (s PodState) Held() bool {
	return s == PodStateReserved || s == PodStateRacing || s == PodStateAssigned
}

// Pod is an opaque compute unit handed out to users.
type Pod struct {
	ID     string   `json:"pod_id"`
	Type   string   `json:"pod_type"`
	State  PodState `json:"state"`
	HeldBy string   `json:"held_by,omitempty"`
}

// PodSpec describes a pod configured at start-up.
type PodSpec struct {
	ID   string
	Type string
}
