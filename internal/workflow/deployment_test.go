package workflow

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/driver"
)

// fakeServiceDriver implements driver.Driver for the registry/Git deployment
// paths; only the methods those workflows reach are wired.
type fakeServiceDriver struct {
	pullImageFn    func(ctx context.Context, image string) (string, error)
	createVolumeFn func(ctx context.Context, name string, labels map[string]string) (string, error)
	createServiceFn func(ctx context.Context, spec driver.ServiceSpec) (string, error)
	removeServiceFn func(ctx context.Context, name string) error
	deleteVolumeFn  func(ctx context.Context, name string) error
}

func (f *fakeServiceDriver) CreateOverlayNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	panic("not used")
}
func (f *fakeServiceDriver) DeleteNetwork(ctx context.Context, idOrName string) error {
	panic("not used")
}
func (f *fakeServiceDriver) ConnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error {
	panic("not used")
}
func (f *fakeServiceDriver) DisconnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error {
	panic("not used")
}
func (f *fakeServiceDriver) CreateVolume(ctx context.Context, name string, labels map[string]string) (string, error) {
	return f.createVolumeFn(ctx, name, labels)
}
func (f *fakeServiceDriver) DeleteVolume(ctx context.Context, name string) error {
	if f.deleteVolumeFn != nil {
		return f.deleteVolumeFn(ctx, name)
	}
	return nil
}
func (f *fakeServiceDriver) PullImage(ctx context.Context, image string) (string, error) {
	return f.pullImageFn(ctx, image)
}
func (f *fakeServiceDriver) BuildImageFromTar(ctx context.Context, tarStream io.Reader, tag string) (io.ReadCloser, error) {
	panic("not used")
}
func (f *fakeServiceDriver) CreateService(ctx context.Context, spec driver.ServiceSpec) (string, error) {
	return f.createServiceFn(ctx, spec)
}
func (f *fakeServiceDriver) GetServiceStatus(ctx context.Context, name string) (*driver.ServiceStatus, error) {
	panic("not used")
}
func (f *fakeServiceDriver) UpdateServiceEnv(ctx context.Context, name string, env map[string]string) error {
	panic("not used")
}
func (f *fakeServiceDriver) RemoveService(ctx context.Context, name string) error {
	return f.removeServiceFn(ctx, name)
}
func (f *fakeServiceDriver) GetServiceLogs(ctx context.Context, name string, tail int) (string, error) {
	panic("not used")
}
func (f *fakeServiceDriver) StreamServiceLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	panic("not used")
}
func (f *fakeServiceDriver) ExecInServiceTask(ctx context.Context, serviceName string, cmd []string) (*driver.ExecResult, error) {
	panic("not used")
}

func deployParams() DeployParams {
	return DeployParams{
		DeploymentID: "dep-1",
		EnvID:        "env-1",
		EnvName:      "overlay_1",
		NetworkID:    "net-123",
		JobID:        "job-1",
		Image:        "nginx",
		Tag:          "latest",
		Replicas:     1,
		VolumeNames:  []string{"data"},
	}
}

func (s *workflowTestSuite) TestDeployFromRegistryWorkflow_Success() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeServiceDriver{
		pullImageFn:    func(ctx context.Context, image string) (string, error) { return "sha256:abc", nil },
		createVolumeFn: func(ctx context.Context, name string, labels map[string]string) (string, error) { return name, nil },
		createServiceFn: func(ctx context.Context, spec driver.ServiceSpec) (string, error) {
			s.Equal("job_overlay_1_job-1", spec.Name)
			return "svc-1", nil
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Times(6)

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(DeployFromRegistryWorkflow, deployParams())

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestDeployFromRegistryWorkflow_PullImageFailureMarksFailed() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeServiceDriver{
		pullImageFn: func(ctx context.Context, image string) (string, error) {
			return "", errors.New("registry unreachable")
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Twice()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(DeployFromRegistryWorkflow, deployParams())

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestDeployFromGitWorkflow_Success() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeServiceDriver{
		createVolumeFn: func(ctx context.Context, name string, labels map[string]string) (string, error) { return name, nil },
		createServiceFn: func(ctx context.Context, spec driver.ServiceSpec) (string, error) {
			return "svc-1", nil
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Times(6)

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("BuildImage", mock.Anything, mock.Anything).Return(&activity.BuildImageResult{Success: true}, nil)

	env.ExecuteWorkflow(DeployFromGitWorkflow, deployParams(), activity.GitBuildSpec{
		GitURL: "https://example.com/repo.git", BaseImage: "node:20-alpine",
	}, 1)

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestDeployFromGitWorkflow_BuildFailureMarksFailed() {
	env := s.NewTestWorkflowEnvironment()

	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Twice()

	env.RegisterActivity(activity.NewDriverActivities(&fakeServiceDriver{}))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("BuildImage", mock.Anything, mock.Anything).Return(&activity.BuildImageResult{Success: false, ErrMessage: "compile error"}, nil)

	env.ExecuteWorkflow(DeployFromGitWorkflow, deployParams(), activity.GitBuildSpec{
		GitURL: "https://example.com/repo.git", BaseImage: "node:20-alpine",
	}, 1)

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestStopDeploymentWorkflow_Success() {
	env := s.NewTestWorkflowEnvironment()

	removed := ""
	d := &fakeServiceDriver{removeServiceFn: func(ctx context.Context, name string) error {
		removed = name
		return nil
	}}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil).Twice()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(StopDeploymentWorkflow, StopDeploymentParams{
		DeploymentID: "dep-1",
		ServiceName:  "job_overlay_1_job-1",
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	s.Equal("job_overlay_1_job-1", removed)
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestStopDeploymentWorkflow_DeletesVolumesUnlessPreserved() {
	env := s.NewTestWorkflowEnvironment()

	var deletedVolumes []string
	d := &fakeServiceDriver{
		removeServiceFn: func(ctx context.Context, name string) error { return nil },
		deleteVolumeFn: func(ctx context.Context, name string) error {
			deletedVolumes = append(deletedVolumes, name)
			return nil
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil).Twice()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(StopDeploymentWorkflow, StopDeploymentParams{
		DeploymentID: "dep-1",
		ServiceName:  "job_overlay_1_job-1",
		Volumes:      []string{"vol_overlay_1_data"},
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	s.Equal([]string{"vol_overlay_1_data"}, deletedVolumes)
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestStopDeploymentWorkflow_PreservesVolumes() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeServiceDriver{
		removeServiceFn: func(ctx context.Context, name string) error { return nil },
		deleteVolumeFn: func(ctx context.Context, name string) error {
			s.Fail("DeleteVolume should not be called when PreserveVolumes is set")
			return nil
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil).Twice()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(StopDeploymentWorkflow, StopDeploymentParams{
		DeploymentID:    "dep-1",
		ServiceName:     "job_overlay_1_job-1",
		Volumes:         []string{"vol_overlay_1_data"},
		PreserveVolumes: true,
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestStopDeploymentWorkflow_RemoveServiceFailureMarksFailed() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeServiceDriver{removeServiceFn: func(ctx context.Context, name string) error {
		return errors.New("service not found")
	}}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(StopDeploymentWorkflow, StopDeploymentParams{
		DeploymentID: "dep-1",
		ServiceName:  "job_overlay_1_job-1",
	})

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}
