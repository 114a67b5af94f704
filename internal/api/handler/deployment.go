package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	mw "github.com/edvin/hosting/internal/api/middleware"
	"github.com/edvin/hosting/internal/api/request"
	"github.com/edvin/hosting/internal/api/response"
	"github.com/edvin/hosting/internal/core"
)

const defaultLogTail = 100

type Deployment struct {
	deployments *core.DeploymentService
}

func NewDeployment(deployments *core.DeploymentService) *Deployment {
	return &Deployment{deployments: deployments}
}

func (h *Deployment) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateDeployment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.deployments.CreateFromRegistry(r.Context(), mw.GetIdentity(r.Context()).UserID, core.CreateRegistryInput{
		EnvID:       req.EnvironmentID,
		Image:       req.Image,
		Tag:         req.Tag,
		Replicas:    req.Replicas,
		Ports:       req.Ports,
		EnvVars:     req.EnvVars,
		VolumeNames: req.Volumes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, d)
}

func (h *Deployment) CreateFromGit(w http.ResponseWriter, r *http.Request) {
	var req request.CreateGitDeployment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.deployments.CreateFromGit(r.Context(), mw.GetIdentity(r.Context()).UserID, core.CreateGitInput{
		EnvID:       req.EnvironmentID,
		GitURL:      req.GitURL,
		Branch:      req.Branch,
		BaseImage:   req.BaseImage,
		InstallCmd:  req.InstallCommand,
		BuildCmd:    req.BuildCommand,
		StartCmd:    req.StartCommand,
		Replicas:    req.Replicas,
		Ports:       req.Ports,
		EnvVars:     req.EnvVars,
		VolumeNames: req.Volumes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, d)
}

func (h *Deployment) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := request.RequireID(chi.URLParam(r, "jobId"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.deployments.GetStatus(r.Context(), mw.GetIdentity(r.Context()).UserID, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, d)
}

func (h *Deployment) ListByEnvironment(w http.ResponseWriter, r *http.Request) {
	envID, err := request.RequireID(chi.URLParam(r, "envId"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployments, err := h.deployments.ListByEnvironment(r.Context(), mw.GetIdentity(r.Context()).UserID, envID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, deployments)
}

// Logs returns the requested tail of a deployment's logs as a JSON object
// {"logs": "..."}: live from the driver for a RUNNING deployment, or the archived build
// transcript for a FAILED Git deployment whose container is already gone.
func (h *Deployment) Logs(w http.ResponseWriter, r *http.Request) {
	deploymentID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	tail := defaultLogTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			tail = n
		}
	}

	logs, err := h.deployments.GetLogs(r.Context(), mw.GetIdentity(r.Context()).UserID, deploymentID, tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

// StreamLogs upgrades to WebSocket and relays a RUNNING deployment's live
// log stream from the Docker Driver, one binary message per chunk read.
// Auth middleware sits upstream of this route and reads the API key from
// the X-API-Key header of the upgrade request, as on every other route; no
// query-parameter form of the key is accepted.
func (h *Deployment) StreamLogs(w http.ResponseWriter, r *http.Request) {
	deploymentID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := mw.GetIdentity(r.Context()).UserID
	d, serviceName, err := h.deployments.ServiceNameFor(r.Context(), userID, deploymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if d.Status != "RUNNING" {
		response.WriteError(w, http.StatusConflict, "deployment is not running")
		return
	}

	reader, err := h.deployments.Driver().StreamServiceLogs(r.Context(), serviceName)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "failed to open log stream")
		return
	}
	defer reader.Close()

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if writeErr := ws.Write(ctx, websocket.MessageBinary, buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				ws.Close(websocket.StatusInternalError, readErr.Error())
				return
			}
			break
		}
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

// Delete stops a deployment: removes its service and, unless
// ?preserveVolumes=true, its volumes, then hard-deletes the row.
func (h *Deployment) Delete(w http.ResponseWriter, r *http.Request) {
	deploymentID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	preserveVolumes := r.URL.Query().Get("preserveVolumes") == "true"

	if err := h.deployments.Stop(r.Context(), mw.GetIdentity(r.Context()).UserID, deploymentID, preserveVolumes); err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "stop initiated"})
}
