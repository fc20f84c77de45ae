package dto

import (
	"time"

	"github.com/spec-kit/pod-racer/internal/domain"
)

// SessionRequest payload for /start_pod, /start_race and /close.
type SessionRequest struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
}

// StartResponse reports the outcome of a start call.
type StartResponse struct {
	Status        string   `json:"status"`
	SessionID     string   `json:"session_id"`
	PodID         string   `json:"pod_id,omitempty"`
	PodType       string   `json:"pod_type,omitempty"`
	Winner        string   `json:"winner,omitempty"`
	PodsRaced     []string `json:"pods_raced"`
	Credits       int64    `json:"credits"`
	Position      *int     `json:"position,omitempty"`
	EstimatedWait *int64   `json:"estimated_wait,omitempty"`
}

// StatusResponse reports the session state during polling.
type StatusResponse struct {
	Status           string   `json:"status"`
	SessionID        string   `json:"session_id"`
	PodID            string   `json:"pod_id,omitempty"`
	PodType          string   `json:"pod_type,omitempty"`
	Winner           string   `json:"winner,omitempty"`
	PodsRaced        []string `json:"pods_raced,omitempty"`
	CreditsRemaining int64    `json:"credits_remaining"`
	Position         *int     `json:"position,omitempty"`
	EstimatedWait    *int64   `json:"estimated_wait,omitempty"`
	CloseReason      string   `json:"close_reason,omitempty"`
}

// QueueStatusResponse reports a queued user's place.
type QueueStatusResponse struct {
	Status        string `json:"status"`
	Position      int    `json:"position"`
	EstimatedWait int64  `json:"estimated_wait"`
}

// CloseResponse reports a closed session and the pool afterwards.
type CloseResponse struct {
	Status      string         `json:"status"`
	CloseReason string         `json:"close_reason,omitempty"`
	Pool        map[string]int `json:"pool"`
}

// PodsResponse is the pool snapshot.
type PodsResponse struct {
	Pods   []domain.Pod   `json:"pods"`
	Counts map[string]int `json:"counts"`
}

// Seconds renders an optional duration as whole seconds.
func Seconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(d.Seconds())
	return &s
}

// PoolCounts converts per-state counts to their JSON form.
func PoolCounts(counts map[domain.PodState]int) map[string]int {
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	return out
}
