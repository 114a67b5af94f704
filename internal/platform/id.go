package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// opaqueAlphabet is the unreserved URL-safe alphabet used for every
// public-facing opaque token (job_id, API key_id/secret, magic-link token).
const opaqueAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// NewID returns a new UUID v4 string, used for internal aggregate primary keys.
func NewID() string {
	return uuid.New().String()
}

// NewOpaqueToken returns a random string of the given length drawn from the
// unreserved URL-safe alphabet. Used for job_id (16), API key_id (16), API
// key secret (32), and magic-link token (32).
func NewOpaqueToken(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = opaqueAlphabet[b[i]%byte(len(opaqueAlphabet))]
	}
	return string(b)
}
