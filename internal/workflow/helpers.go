package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/model"
)

// failDeployment records a terminal failure on a deployment row and emits
// deployment.failed, then returns the original error so the workflow still
// surfaces its cause to Temporal.
func failDeployment(ctx workflow.Context, deploymentID string, err error) error {
	msg := err.Error()
	_ = workflow.ExecuteActivity(ctx, "UpdateDeploymentStatus", activity.UpdateDeploymentStatusParams{
		DeploymentID: deploymentID,
		Status:       model.DeploymentStatusFailed,
		ErrorMessage: &msg,
		MarkComplete: true,
	}).Get(ctx, nil)
	_ = workflow.ExecuteActivity(ctx, "PublishEvent", activity.PublishEventParams{
		Type:         "deployment.failed",
		DeploymentID: deploymentID,
	}).Get(ctx, nil)
	return err
}

// failEnvironment records a terminal failure on an environment row and
// emits environment.error, then returns the original error.
func failEnvironment(ctx workflow.Context, envID string, err error) error {
	msg := err.Error()
	_ = workflow.ExecuteActivity(ctx, "UpdateEnvironmentStatus", activity.UpdateEnvironmentStatusParams{
		EnvID:        envID,
		Status:       model.EnvironmentStatusError,
		ErrorMessage: &msg,
	}).Get(ctx, nil)
	_ = workflow.ExecuteActivity(ctx, "PublishEvent", activity.PublishEventParams{
		Type:  "environment.error",
		EnvID: envID,
	}).Get(ctx, nil)
	return err
}
