package domain

import "time"

// Project is a tenant of the gateway. APIKeyHash is a bcrypt hash of the
// project's API key secret; the plaintext is never stored.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
