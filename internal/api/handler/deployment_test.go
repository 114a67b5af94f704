package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/hosting/internal/core"
	"github.com/edvin/hosting/internal/model"
)

// environmentRow builds a handlerMockRow matching the 11-column scan order
// DeploymentService.getEnvironment expects.
func environmentRow(userID, status string) *handlerMockRow {
	return &handlerMockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = "env-1"
		*dest[1].(*string) = userID
		*dest[2].(*string) = "myapp"
		*dest[3].(*string) = "overlay_1"
		*dest[5].(*string) = status
		*dest[6].(*bool) = false
		*dest[8].(**string) = nil
		now := time.Now()
		*dest[9].(*time.Time) = now
		*dest[10].(*time.Time) = now
		return nil
	}}
}

func TestDeploymentCreate_EnvironmentNotActive(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(environmentRow("owner-1", model.EnvironmentStatusCreating)).Once()

	h := NewDeployment(core.NewDeploymentService(db, &temporalmocks.Client{}, nil, nil))

	req := newRequest("POST", "/deployments", map[string]any{"environmentId": "env-1", "image": "nginx"})
	req = withIdentity(req, core.Identity{UserID: "owner-1", Scopes: []string{model.ScopeDeployWrite}})
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeploymentCreate_WrongOwner(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(environmentRow("owner-1", model.EnvironmentStatusActive)).Once()

	h := NewDeployment(core.NewDeploymentService(db, &temporalmocks.Client{}, nil, nil))

	req := newRequest("POST", "/deployments", map[string]any{"environmentId": "env-1", "image": "nginx"})
	req = withIdentity(req, core.Identity{UserID: "someone-else", Scopes: []string{model.ScopeDeployWrite}})
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeploymentCreate_MissingImage(t *testing.T) {
	h := NewDeployment(core.NewDeploymentService(&handlerMockDB{}, &temporalmocks.Client{}, nil, nil))

	req := newRequest("POST", "/deployments", map[string]any{"environmentId": "env-1"})
	req = withIdentity(req, core.Identity{UserID: "owner-1", Scopes: []string{model.ScopeDeployWrite}})
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeploymentCreate_Success(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(environmentRow("owner-1", model.EnvironmentStatusActive)).Once()
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	tc := &temporalmocks.Client{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "DeployFromRegistryWorkflow", mock.Anything).
		Return(&temporalmocks.WorkflowRun{}, nil).Once()

	h := NewDeployment(core.NewDeploymentService(db, tc, nil, nil))

	req := newRequest("POST", "/deployments", map[string]any{"environmentId": "env-1", "image": "nginx", "tag": "1.25"})
	req = withIdentity(req, core.Identity{UserID: "owner-1", Scopes: []string{model.ScopeDeployWrite}})
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	db.AssertExpectations(t)
	tc.AssertExpectations(t)
}

func TestDeploymentCreateFromGit_MissingGitURL(t *testing.T) {
	h := NewDeployment(core.NewDeploymentService(&handlerMockDB{}, &temporalmocks.Client{}, nil, nil))

	req := newRequest("POST", "/deployments/from-git", map[string]any{"environmentId": "env-1", "image": "nginx"})
	req = withIdentity(req, core.Identity{UserID: "owner-1", Scopes: []string{model.ScopeDeployWrite}})
	rec := httptest.NewRecorder()
	h.CreateFromGit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeploymentGetStatus_MissingJobID(t *testing.T) {
	h := NewDeployment(core.NewDeploymentService(&handlerMockDB{}, &temporalmocks.Client{}, nil, nil))

	req := httptest.NewRequest("GET", "/deployments//status", nil)
	req = withChiURLParam(req, "jobId", "")
	rec := httptest.NewRecorder()
	h.GetStatus(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeploymentListByEnvironment_WrongOwner(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&handlerMockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = "owner-1"
		return nil
	}}).Once()

	h := NewDeployment(core.NewDeploymentService(db, &temporalmocks.Client{}, nil, nil))

	req := httptest.NewRequest("GET", "/environments/env-1/deployments", nil)
	req = withChiURLParam(req, "envId", "env-1")
	req = withIdentity(req, core.Identity{UserID: "someone-else", Scopes: []string{model.ScopeDeployRead}})
	rec := httptest.NewRecorder()
	h.ListByEnvironment(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeploymentDelete_MissingID(t *testing.T) {
	h := NewDeployment(core.NewDeploymentService(&handlerMockDB{}, &temporalmocks.Client{}, nil, nil))

	req := httptest.NewRequest("DELETE", "/deployments/ ", nil)
	req = withChiURLParam(req, "id", "")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
