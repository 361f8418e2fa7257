package models

import "time"

// Session is an established sign-in bound to a browser session id.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	User      Identity  `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired checks if session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// TTL returns the remaining lifetime, zero once expired.
func (s *Session) TTL() time.Duration {
	remaining := time.Until(s.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
