// Package session tracks authenticated sessions across tool invocations:
// sliding expiry, per-user concurrency limits, and periodic reclamation.
package session

import (
	"time"
)

// Session binds a random identifier to a user with a sliding expiry.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// UserID is the owning user.
	UserID string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// LastAccess is the last time the session was validated or extended (UTC).
	LastAccess time.Time
	// ExpiresAt is the absolute expiry; recomputed to now+timeout on every
	// successful validation (UTC).
	ExpiresAt time.Time
	// UserAgent optionally binds the session to a client user agent.
	UserAgent string
	// IPAddress optionally binds the session to a client address.
	IPAddress string
	// Active is false once the session is destroyed. An inactive session
	// must never be returned by lookup.
	Active bool
}

// ExpiredAt reports whether the session is past its expiry at the given
// instant.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// refresh updates LastAccess and slides ExpiresAt forward by timeout.
func (s *Session) refresh(now time.Time, timeout time.Duration) {
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}

// clone returns a copy so callers can never mutate stored state.
func (s *Session) clone() *Session {
	c := *s
	return &c
}
