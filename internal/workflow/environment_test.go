package workflow

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/model"
)

// fakeDriver implements driver.Driver; each test wires only the methods its
// workflow path reaches, the rest panic if ever called.
type fakeDriver struct {
	createOverlayNetworkFn func(ctx context.Context, name string, labels map[string]string) (string, error)
	connectSidecarFn       func(ctx context.Context, containerNameOrID, networkIDOrName string) error
	updateServiceEnvFn     func(ctx context.Context, name string, env map[string]string) error
	removeServiceFn        func(ctx context.Context, name string) error
	deleteVolumeFn         func(ctx context.Context, name string) error
	deleteNetworkFn        func(ctx context.Context, idOrName string) error
}

func (f *fakeDriver) CreateOverlayNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	return f.createOverlayNetworkFn(ctx, name, labels)
}
func (f *fakeDriver) DeleteNetwork(ctx context.Context, idOrName string) error {
	return f.deleteNetworkFn(ctx, idOrName)
}
func (f *fakeDriver) ConnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error {
	return f.connectSidecarFn(ctx, containerNameOrID, networkIDOrName)
}
func (f *fakeDriver) DisconnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error {
	panic("not used")
}
func (f *fakeDriver) CreateVolume(ctx context.Context, name string, labels map[string]string) (string, error) {
	panic("not used")
}
func (f *fakeDriver) DeleteVolume(ctx context.Context, name string) error {
	return f.deleteVolumeFn(ctx, name)
}
func (f *fakeDriver) PullImage(ctx context.Context, image string) (string, error) { panic("not used") }
func (f *fakeDriver) BuildImageFromTar(ctx context.Context, tarStream io.Reader, tag string) (io.ReadCloser, error) {
	panic("not used")
}
func (f *fakeDriver) CreateService(ctx context.Context, spec driver.ServiceSpec) (string, error) {
	panic("not used")
}
func (f *fakeDriver) GetServiceStatus(ctx context.Context, name string) (*driver.ServiceStatus, error) {
	panic("not used")
}
func (f *fakeDriver) UpdateServiceEnv(ctx context.Context, name string, env map[string]string) error {
	return f.updateServiceEnvFn(ctx, name, env)
}
func (f *fakeDriver) RemoveService(ctx context.Context, name string) error {
	return f.removeServiceFn(ctx, name)
}
func (f *fakeDriver) GetServiceLogs(ctx context.Context, name string, tail int) (string, error) {
	panic("not used")
}
func (f *fakeDriver) StreamServiceLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	panic("not used")
}
func (f *fakeDriver) ExecInServiceTask(ctx context.Context, serviceName string, cmd []string) (*driver.ExecResult, error) {
	panic("not used")
}

// mockDB implements activity.DB for workflow tests.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}
func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}
func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type workflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(workflowTestSuite))
}

func (s *workflowTestSuite) TestCreateEnvironmentWorkflow_Success() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeDriver{createOverlayNetworkFn: func(ctx context.Context, name string, labels map[string]string) (string, error) {
		s.Equal("overlay_1", name)
		return "net-123", nil
	}}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Twice()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(CreateEnvironmentWorkflow, CreateEnvironmentParams{
		EnvID: "env-1", OverlayName: "overlay_1",
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	db.AssertExpectations(s.T())
}

func (s *workflowTestSuite) TestCreateEnvironmentWorkflow_NetworkFailureMarksError() {
	env := s.NewTestWorkflowEnvironment()

	d := &fakeDriver{createOverlayNetworkFn: func(ctx context.Context, name string, labels map[string]string) (string, error) {
		return "", errors.New("engine unreachable")
	}}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(CreateEnvironmentWorkflow, CreateEnvironmentParams{
		EnvID: "env-1", OverlayName: "overlay_1",
	})

	s.True(env.IsWorkflowCompleted())
	s.Error(env.GetWorkflowError())
}

func (s *workflowTestSuite) TestDeleteEnvironmentWorkflow_RemovesServicesAndVolumes() {
	env := s.NewTestWorkflowEnvironment()

	removedServices := []string{}
	deletedVolumes := []string{}
	d := &fakeDriver{
		removeServiceFn: func(ctx context.Context, name string) error {
			removedServices = append(removedServices, name)
			return nil
		},
		deleteVolumeFn: func(ctx context.Context, name string) error {
			deletedVolumes = append(deletedVolumes, name)
			return nil
		},
		deleteNetworkFn: func(ctx context.Context, idOrName string) error {
			s.Equal("net-123", idOrName)
			return nil
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Twice()
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newRowsForDeployments(), nil).Once()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(DeleteEnvironmentWorkflow, DeleteEnvironmentParams{
		EnvID: "env-1", EnvName: "myapp", OverlayName: "overlay_1", DriverNetworkID: "net-123",
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	s.Equal([]string{"job_myapp_job-1"}, removedServices)
	s.Equal([]string{"data"}, deletedVolumes)
}

func (s *workflowTestSuite) TestMakeEnvironmentPublicWorkflow_PatchesRunningDeployments() {
	env := s.NewTestWorkflowEnvironment()

	var patchedEnv map[string]string
	d := &fakeDriver{
		connectSidecarFn: func(ctx context.Context, containerNameOrID, networkIDOrName string) error {
			return nil
		},
		updateServiceEnvFn: func(ctx context.Context, name string, envVars map[string]string) error {
			patchedEnv = envVars
			return nil
		},
	}
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newRowsForDeployments(), nil).Once()

	env.RegisterActivity(activity.NewDriverActivities(d))
	env.RegisterActivity(activity.NewStore(db))
	env.OnActivity("PublishEvent", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(MakeEnvironmentPublicWorkflow, MakeEnvironmentPublicParams{
		EnvID: "env-1", EnvName: "myapp", OverlayName: "overlay_1", Domain: "app.example.com", ProxyContainerName: "proxy-1",
	})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())
	s.Require().NotNil(patchedEnv)
	s.Equal("app.example.com", patchedEnv["VIRTUAL_HOST"])
}

// newRowsForDeployments builds a pgx.Rows fake yielding one RUNNING
// deployment with a single volume, matching ListDeploymentsByEnvironment's
// 21-column scan order.
func newRowsForDeployments() pgx.Rows {
	return &workflowMockRows{scanFuncs: []func(dest ...any) error{
		func(dest ...any) error {
			*dest[0].(*string) = "dep-1"
			*dest[1].(*string) = "env-1"
			*dest[2].(*string) = "job-1"
			*dest[3].(*string) = "nginx"
			*dest[4].(*string) = "latest"
			*dest[5].(*int) = 1
			*dest[8].(*[]string) = []string{"data"}
			*dest[11].(*string) = model.DeploymentStatusRunning
			*dest[15].(*int) = 1
			return nil
		},
	}}
}

type workflowMockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
}

func (m *workflowMockRows) Next() bool { return m.callIndex < len(m.scanFuncs) }
func (m *workflowMockRows) Scan(dest ...any) error {
	fn := m.scanFuncs[m.callIndex]
	m.callIndex++
	return fn(dest...)
}
func (m *workflowMockRows) Err() error                                   { return nil }
func (m *workflowMockRows) Close()                                       {}
func (m *workflowMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *workflowMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *workflowMockRows) RawValues() [][]byte                          { return nil }
func (m *workflowMockRows) Values() ([]any, error)                       { return nil, nil }
func (m *workflowMockRows) Conn() *pgx.Conn                               { return nil }
