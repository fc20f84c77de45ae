package events

import (
	"time"

	"github.com/spec-kit/pod-racer/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserCreated      EventType = "user_created"
	EventCreditsChanged   EventType = "credits_changed"
	EventCreditsExhausted EventType = "credits_exhausted"
	EventSessionQueued    EventType = "session_queued"
	EventSessionAssigned  EventType = "session_assigned"
	EventSessionClosed    EventType = "session_closed"
	EventRaceCompleted    EventType = "race_completed"
)

// AllEventTypes lists every event type for subscribers that want the full stream.
var AllEventTypes = []EventType{
	EventUserCreated,
	EventCreditsChanged,
	EventCreditsExhausted,
	EventSessionQueued,
	EventSessionAssigned,
	EventSessionClosed,
	EventRaceCompleted,
}

// Event represents a domain event emitted by the core components.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CreditsPayload carries a balance after a ledger change.
type CreditsPayload struct {
	CreditsRemaining int64 `json:"credits_remaining"`
}

// SessionQueuedPayload payload.
type SessionQueuedPayload struct {
	SessionID string `json:"session_id"`
	Position  int    `json:"position"`
}

// SessionAssignedPayload payload.
type SessionAssignedPayload struct {
	SessionID string   `json:"session_id"`
	PodID     string   `json:"pod_id"`
	PodType   string   `json:"pod_type"`
	PodsRaced []string `json:"pods_raced"`
}

// SessionClosedPayload payload. Session is a detached copy.
type SessionClosedPayload struct {
	Session          *domain.Session `json:"session"`
	CreditsRemaining int64           `json:"credits_remaining"`
}

// RaceCompletedPayload payload.
type RaceCompletedPayload struct {
	Outcome      string        `json:"outcome"`
	Winner       string        `json:"winner,omitempty"`
	Participants []string      `json:"participants"`
	Failed       []string      `json:"failed,omitempty"`
	Duration     time.Duration `json:"duration"`
}
