package middleware

import (
	"context"
	"net/http"

	"github.com/edvin/hosting/internal/api/response"
	"github.com/edvin/hosting/internal/core"
)

type contextKey string

const identityKey contextKey = "identity"

// Auth validates the X-API-Key header against credentials and attaches the
// resolved Identity to the request context. Every core.Err* failure from
// Authenticate maps to 401: the wire format deliberately does not
// distinguish unknown-key from revoked from expired, so a caller can't
// enumerate key IDs by timing the failure reason.
func Auth(credentials *core.CredentialService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing X-API-Key header")
				return
			}

			identity, err := credentials.Authenticate(r.Context(), rawKey)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the Identity attached by Auth, or the zero value if
// called outside an authenticated route.
func GetIdentity(ctx context.Context) core.Identity {
	identity, _ := ctx.Value(identityKey).(*core.Identity)
	if identity == nil {
		return core.Identity{}
	}
	return *identity
}

// ContextWithIdentity attaches identity the same way Auth does. Exported
// for handler tests that need an authenticated context without going
// through a real CredentialService.
func ContextWithIdentity(ctx context.Context, identity core.Identity) context.Context {
	return context.WithValue(ctx, identityKey, &identity)
}
