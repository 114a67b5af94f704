package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/hosting/internal/api/middleware"
	"github.com/edvin/hosting/internal/api/request"
	"github.com/edvin/hosting/internal/api/response"
	"github.com/edvin/hosting/internal/core"
)

type Environment struct {
	envs             *core.EnvironmentService
	deployments      *core.DeploymentService
	proxyContainer   string
	letsEncryptEmail string
}

func NewEnvironment(envs *core.EnvironmentService, deployments *core.DeploymentService, proxyContainer, letsEncryptEmail string) *Environment {
	return &Environment{envs: envs, deployments: deployments, proxyContainer: proxyContainer, letsEncryptEmail: letsEncryptEmail}
}

func (h *Environment) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateEnvironment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	env, err := h.envs.Create(r.Context(), mw.GetIdentity(r.Context()).UserID, req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, env)
}

func (h *Environment) List(w http.ResponseWriter, r *http.Request) {
	envs, err := h.envs.ListByUser(r.Context(), mw.GetIdentity(r.Context()).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, envs)
}

func (h *Environment) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := mw.GetIdentity(r.Context()).UserID

	env, err := h.envs.GetByID(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	deployments, err := h.deployments.ListByEnvironment(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"environment": env,
		"deployments": deployments,
	})
}

func (h *Environment) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.envs.Delete(r.Context(), mw.GetIdentity(r.Context()).UserID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "delete initiated"})
}

func (h *Environment) MakePublic(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.MakeEnvironmentPublic
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := mw.GetIdentity(r.Context()).UserID
	if err := h.envs.MakePublic(r.Context(), userID, id, req.Domain, h.proxyContainer, h.letsEncryptEmail); err != nil {
		writeServiceError(w, err)
		return
	}

	env, err := h.envs.GetByID(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, env)
}
