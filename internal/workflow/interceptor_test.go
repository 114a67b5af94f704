package workflow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/hosting/internal/activity"
)

// TestErrorTypingInterceptor_NamesTheFailingActivity runs a workflow whose
// first activity fails with a plain error and checks that the interceptor
// has retyped it to the activity's own name, the thing the Temporal UI
// otherwise shows as a bare "ApplicationError".
func (s *workflowTestSuite) TestErrorTypingInterceptor_NamesTheFailingActivity() {
	env := s.NewTestWorkflowEnvironment()
	env.SetWorkerOptions(worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&ErrorTypingInterceptor{}},
	})

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
	err := env.GetWorkflowError()
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().ErrorAs(err, &appErr)
	s.Equal("CreateOverlayNetwork", appErr.Type())
}
