package model

import "time"

// BearerToken is a stored JWT record. Only tokens issued without an expiry
// claim are persisted; they act as durable API keys and can be revoked by
// flipping Blacklisted.
type BearerToken struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user"`
	Blacklisted bool      `json:"blacklist"`
	CreatedAt   time.Time `json:"createdAt"`
}
