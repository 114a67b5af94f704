package model

import "time"

// APIKey is an opaque bearer credential presented as
// "rw_prod_{key_id}.{secret}". Revoked/expired rows are never purged.
type APIKey struct {
	KeyID      string     `json:"key_id"`
	UserID     string     `json:"user_id"`
	SecretHash string     `json:"-"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Valid reports whether the key is usable right now: not revoked, not expired.
func (k *APIKey) Valid(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// HasScope reports whether the key satisfies required, either directly or via admin.
func (k *APIKey) HasScope(required string) bool {
	for _, s := range k.Scopes {
		if s == ScopeAdmin || s == required {
			return true
		}
	}
	return false
}

// MagicLink is a one-shot exchange token redeemable for exactly one APIKey.
type MagicLink struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the link is past its 15-minute window.
func (m *MagicLink) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}
