package activity

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func environmentRow() *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = "env-1"
		*dest[1].(*string) = "owner-1"
		*dest[2].(*string) = "myapp"
		*dest[3].(*string) = "overlay_1"
		*dest[5].(*string) = "ACTIVE"
		*dest[6].(*bool) = false
		now := time.Now()
		*dest[9].(*time.Time) = now
		*dest[10].(*time.Time) = now
		return nil
	}}
}

func deploymentRow() *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = "dep-1"
		*dest[1].(*string) = "env-1"
		*dest[2].(*string) = "job-1"
		*dest[3].(*string) = "nginx"
		*dest[4].(*string) = "latest"
		*dest[5].(*int) = 1
		*dest[11].(*string) = "RUNNING"
		*dest[15].(*int) = 1
		now := time.Now()
		*dest[19].(*time.Time) = now
		*dest[20].(*time.Time) = now
		return nil
	}}
}

func TestStoreGetEnvironment(t *testing.T) {
	db := &mockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(environmentRow()).Once()

	s := NewStore(db)
	e, err := s.GetEnvironment(context.Background(), "env-1")

	require.NoError(t, err)
	assert.Equal(t, "env-1", e.ID)
	assert.Equal(t, "owner-1", e.UserID)
}

func TestStoreGetDeployment(t *testing.T) {
	db := &mockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(deploymentRow()).Once()

	s := NewStore(db)
	d, err := s.GetDeployment(context.Background(), "dep-1")

	require.NoError(t, err)
	assert.Equal(t, "dep-1", d.ID)
	assert.Equal(t, "RUNNING", d.Status)
}

func TestStoreUpdateEnvironmentStatus(t *testing.T) {
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	s := NewStore(db)
	err := s.UpdateEnvironmentStatus(context.Background(), UpdateEnvironmentStatusParams{EnvID: "env-1", Status: "ACTIVE"})

	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestStoreUpdateDeploymentStatus_MarksStartedAndComplete(t *testing.T) {
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	s := NewStore(db)
	err := s.UpdateDeploymentStatus(context.Background(), UpdateDeploymentStatusParams{
		DeploymentID: "dep-1",
		Status:       "RUNNING",
		MarkStarted:  true,
		MarkComplete: true,
	})

	require.NoError(t, err)
	db.AssertExpectations(t)
	call := db.Calls[0]
	sql := call.Arguments[1].(string)
	assert.Contains(t, sql, "started_at = now()")
	assert.Contains(t, sql, "completed_at = now()")
}

func TestStoreUpsertService(t *testing.T) {
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	s := NewStore(db)
	err := s.UpsertService(context.Background(), UpsertServiceParams{
		DeploymentID: "dep-1", DriverServiceID: "svc-1", Name: "job_overlay_job-1", Status: "RUNNING", Health: "healthy",
	})

	require.NoError(t, err)
}

func TestStoreListActiveDeployments_ExcludesTerminal(t *testing.T) {
	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(deploymentRow().scanFunc), nil).Once()

	s := NewStore(db)
	deployments, err := s.ListActiveDeployments(context.Background())

	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, "dep-1", deployments[0].ID)
	sql := db.Calls[0].Arguments[1].(string)
	assert.Contains(t, sql, "status NOT IN ('FAILED', 'STOPPED')")
}

func TestStoreListActiveEnvironments(t *testing.T) {
	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(environmentRow().scanFunc), nil).Once()

	s := NewStore(db)
	environments, err := s.ListActiveEnvironments(context.Background())

	require.NoError(t, err)
	require.Len(t, environments, 1)
	assert.Equal(t, "env-1", environments[0].ID)
}

func TestStoreGetEnvironment_NotFound(t *testing.T) {
	db := &mockDB{}
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}).Once()

	s := NewStore(db)
	_, err := s.GetEnvironment(context.Background(), "missing")

	assert.Error(t, err)
}
