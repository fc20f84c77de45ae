package domain

import "time"

// SubjectType differentiates how a caller authenticated.
type SubjectType string

const (
	// SubjectTypeUser is a caller holding a token issued for one user.
	SubjectTypeUser SubjectType = "USER"
	// SubjectTypeSharedKey is a caller presenting the service shared key.
	SubjectTypeSharedKey SubjectType = "SHARED_KEY"
)

// Token represents issued bearer token metadata.
type Token struct {
	Value     string
	SubjectID string
	Subject   SubjectType
	ExpiresAt time.Time
	IssuedAt  time.Time
}
