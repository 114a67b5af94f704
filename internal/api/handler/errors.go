package handler

import (
	"errors"
	"net/http"

	"github.com/edvin/hosting/internal/api/response"
	"github.com/edvin/hosting/internal/core"
)

// writeServiceError maps a core.Err* sentinel to the HTTP status the route
// table promises, falling back to 500 for anything unrecognized.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrConflict):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrInvalidInput):
		response.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrForbidden):
		response.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrRateLimited):
		response.WriteError(w, http.StatusTooManyRequests, err.Error())
	default:
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
