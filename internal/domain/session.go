package domain

import "time"

// SessionState is the per-user allocation state machine.
type SessionState string

const (
	SessionStatePending  SessionState = "PENDING"
	SessionStateQueued   SessionState = "QUEUED"
	SessionStateRacing   SessionState = "RACING"
	SessionStateAssigned SessionState = "ASSIGNED"
	SessionStateClosed   SessionState = "CLOSED"
)

// CloseReason records why a session reached CLOSED.
type CloseReason string

const (
	CloseReasonUser             CloseReason = "closed_by_user"
	CloseReasonCreditsExhausted CloseReason = "credits_exhausted"
	CloseReasonNoPodAssigned    CloseReason = "no_pod_assigned"
	CloseReasonNoPodsAvailable  CloseReason = "no_pods_available"
)

// Session is one allocation attempt for a user.
type Session struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	State         SessionState `json:"state"`
	PodID         string       `json:"pod_id,omitempty"`
	PodType       string       `json:"pod_type,omitempty"`
	PodsRaced     []string     `json:"pods_raced,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	QueuePosition *int         `json:"queue_position,omitempty"`
	CloseReason   CloseReason  `json:"close_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
}

// IsActive reports whether the session still counts against the one-per-user rule.
func (s *Session) IsActive() bool {
	return s != nil && s.State != SessionStateClosed
}

// Clone returns a copy that is safe to hand out of the registry.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.PodsRaced = append([]string(nil), s.PodsRaced...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.QueuePosition != nil {
		p := *s.QueuePosition
		cp.QueuePosition = &p
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
