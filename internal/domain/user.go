package domain

import "time"

// DefaultInitialCredits is the balance, in seconds, granted to new users.
const DefaultInitialCredits int64 = 3600

// User is the domain model for callers that hold pods and spend credits.
type User struct {
	ID               string
	CreditsRemaining int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
