package domain

import "time"

// QueueEntry is a user waiting for a pod. Position is derived on read.
type QueueEntry struct {
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Position   int       `json:"position"`
}
