package handler

import (
	"net/http"

	mw "github.com/edvin/hosting/internal/api/middleware"
	"github.com/edvin/hosting/internal/api/request"
	"github.com/edvin/hosting/internal/api/response"
	"github.com/edvin/hosting/internal/core"
)

type Auth struct {
	credentials *core.CredentialService
}

func NewAuth(credentials *core.CredentialService) *Auth {
	return &Auth{credentials: credentials}
}

// Verify redeems a one-time magic-link token for a freshly minted API key.
// The raw wire-format key is only ever returned here; the stored hash can't
// reproduce it.
func (h *Auth) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		response.WriteError(w, http.StatusUnauthorized, "missing token")
		return
	}

	key, rawKey, err := h.credentials.RedeemMagicLink(r.Context(), token)
	if err != nil {
		response.WriteError(w, http.StatusUnauthorized, "invalid, used, or expired token")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"apiKey":    rawKey,
		"expiresAt": key.ExpiresAt,
	})
}

func (h *Auth) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.credentials.ListAPIKeys(r.Context(), mw.GetIdentity(r.Context()).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, keys)
}

func (h *Auth) Revoke(w http.ResponseWriter, r *http.Request) {
	var req request.RevokeAPIKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.credentials.RevokeAPIKey(r.Context(), mw.GetIdentity(r.Context()).UserID, req.KeyID); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "revoked"})
}
