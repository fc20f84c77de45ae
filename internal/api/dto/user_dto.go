package dto

import "time"

// CreateUserRequest payload for new users. UserID is optional.
type CreateUserRequest struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
}

// CreateUserResponse carries the new account and its bearer token.
type CreateUserResponse struct {
	UserID         string     `json:"user_id"`
	Credits        int64      `json:"credits"`
	Token          string     `json:"token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// CreditsRequest payload for /assign_credits and /set_credits.
type CreditsRequest struct {
	Key     string `json:"key"`
	UserID  string `json:"user_id"`
	Credits *int64 `json:"credits"`
}

// CreditsResponse reports a balance.
type CreditsResponse struct {
	Status  string `json:"status,omitempty"`
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
}
