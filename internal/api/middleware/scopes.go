package middleware

import (
	"net/http"

	"github.com/edvin/hosting/internal/api/response"
)

// RequireScopes builds a middleware that 403s unless the authenticated
// identity carries every scope in required (or the admin scope). Scopes are
// static per route, attached at registration time, not looked up from
// route metadata at request time.
func RequireScopes(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			for _, scope := range required {
				if !identity.HasScope(scope) {
					response.WriteError(w, http.StatusForbidden, "missing required scope: "+scope)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
