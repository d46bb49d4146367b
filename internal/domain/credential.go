package domain

import "time"

// Credential is a short-lived bearer secret authorizing exactly one
// realtime session. It lives only in memory.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry. A zero
// ExpiresAt means the expiry is unknown.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

func (c Credential) Empty() bool { return c.Value == "" }
