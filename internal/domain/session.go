package domain

import "time"

// TokenExpiryBuffer is the headroom before server-side expiry within which a
// token is already treated as unusable, so callers refresh ahead of time.
const TokenExpiryBuffer = 5 * time.Minute

type AuthSession struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Usable reports whether the token can still back an authenticated request
// at the given instant, leaving the refresh buffer intact.
func (s AuthSession) Usable(now time.Time) bool {
	if s.Token == "" || s.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-TokenExpiryBuffer))
}
