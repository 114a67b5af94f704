package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/model"
)

func defaultActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// CreateEnvironmentParams carries everything CreateEnvironmentWorkflow needs
// that isn't already persisted on the row (the row itself is inserted by
// the caller in CREATING before the workflow starts).
type CreateEnvironmentParams struct {
	EnvID       string            `json:"env_id"`
	OverlayName string            `json:"overlay_name"`
	Labels      map[string]string `json:"labels"`
}

// CreateEnvironmentWorkflow creates the environment's overlay network and
// flips the row to ACTIVE, or to ERROR with the driver failure recorded.
func CreateEnvironmentWorkflow(ctx workflow.Context, params CreateEnvironmentParams) error {
	ctx = defaultActivityOptions(ctx)

	var result activity.CreateOverlayNetworkResult
	err := workflow.ExecuteActivity(ctx, "CreateOverlayNetwork", activity.CreateOverlayNetworkParams{
		Name:   params.OverlayName,
		Labels: params.Labels,
	}).Get(ctx, &result)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	err = workflow.ExecuteActivity(ctx, "SetEnvironmentNetwork", activity.SetEnvironmentNetworkParams{
		EnvID:           params.EnvID,
		OverlayName:     params.OverlayName,
		DriverNetworkID: result.NetworkID,
	}).Get(ctx, nil)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	err = workflow.ExecuteActivity(ctx, "UpdateEnvironmentStatus", activity.UpdateEnvironmentStatusParams{
		EnvID:  params.EnvID,
		Status: model.EnvironmentStatusActive,
	}).Get(ctx, nil)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	return publishEnvironmentEvent(ctx, params.EnvID, "environment.active")
}

// DeleteEnvironmentParams carries the env's known driver identifiers.
type DeleteEnvironmentParams struct {
	EnvID           string `json:"env_id"`
	EnvName         string `json:"env_name"`
	OverlayName     string `json:"overlay_name"`
	DriverNetworkID string `json:"driver_network_id"`
}

// DeleteEnvironmentWorkflow tears down every child deployment's service and
// volumes, then the overlay network itself. Per-resource absence at every
// step is success, not failure.
func DeleteEnvironmentWorkflow(ctx workflow.Context, params DeleteEnvironmentParams) error {
	ctx = defaultActivityOptions(ctx)

	err := workflow.ExecuteActivity(ctx, "UpdateEnvironmentStatus", activity.UpdateEnvironmentStatusParams{
		EnvID:  params.EnvID,
		Status: model.EnvironmentStatusDeleting,
	}).Get(ctx, nil)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	var deployments []model.Deployment
	err = workflow.ExecuteActivity(ctx, "ListDeploymentsByEnvironment", params.EnvID).Get(ctx, &deployments)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	for _, d := range deployments {
		serviceName := fmt.Sprintf("job_%s_%s", params.EnvName, d.JobID)
		if err := workflow.ExecuteActivity(ctx, "RemoveService", serviceName).Get(ctx, nil); err != nil {
			return failEnvironment(ctx, params.EnvID, err)
		}
		for _, v := range d.Volumes {
			// In-use/missing volumes are tolerated by the driver activity itself.
			_ = workflow.ExecuteActivity(ctx, "DeleteVolume", v).Get(ctx, nil)
		}
	}

	identifier := params.DriverNetworkID
	if identifier == "" {
		identifier = params.OverlayName
	}
	if err := workflow.ExecuteActivity(ctx, "DeleteNetwork", identifier).Get(ctx, nil); err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	err = workflow.ExecuteActivity(ctx, "UpdateEnvironmentStatus", activity.UpdateEnvironmentStatusParams{
		EnvID:  params.EnvID,
		Status: model.EnvironmentStatusDeleted,
	}).Get(ctx, nil)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	return publishEnvironmentEvent(ctx, params.EnvID, "environment.deleted")
}

// MakeEnvironmentPublicParams carries what's needed to attach the shared
// reverse-proxy sidecar and patch running deployments' proxy env vars.
type MakeEnvironmentPublicParams struct {
	EnvID              string `json:"env_id"`
	EnvName            string `json:"env_name"`
	OverlayName        string `json:"overlay_name"`
	Domain             string `json:"domain"`
	ProxyContainerName string `json:"proxy_container_name"`
	LetsEncryptEmail   string `json:"letsencrypt_email"`
}

// MakeEnvironmentPublicWorkflow attaches the proxy sidecar, flips is_public,
// and best-effort patches running deployments' VIRTUAL_HOST/LETSENCRYPT_*
// env vars without replacing their tasks.
func MakeEnvironmentPublicWorkflow(ctx workflow.Context, params MakeEnvironmentPublicParams) error {
	ctx = defaultActivityOptions(ctx)

	err := workflow.ExecuteActivity(ctx, "ConnectSidecar", activity.ConnectSidecarParams{
		ContainerNameOrID: params.ProxyContainerName,
		NetworkIDOrName:   params.OverlayName,
	}).Get(ctx, nil)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	err = workflow.ExecuteActivity(ctx, "SetEnvironmentPublic", activity.SetEnvironmentPublicParams{
		EnvID:        params.EnvID,
		PublicDomain: params.Domain,
	}).Get(ctx, nil)
	if err != nil {
		return failEnvironment(ctx, params.EnvID, err)
	}

	var deployments []model.Deployment
	err = workflow.ExecuteActivity(ctx, "ListDeploymentsByEnvironment", params.EnvID).Get(ctx, &deployments)
	if err != nil {
		// The domain is already committed; proxy env patching is best-effort.
		return nil
	}

	for _, d := range deployments {
		if d.Status != model.DeploymentStatusRunning {
			continue
		}
		serviceName := fmt.Sprintf("job_%s_%s", params.EnvName, d.JobID)
		env := map[string]string{
			"VIRTUAL_HOST":      params.Domain,
			"LETSENCRYPT_HOST":  params.Domain,
			"LETSENCRYPT_EMAIL": params.LetsEncryptEmail,
		}
		if d.VirtualPort != nil {
			env["VIRTUAL_PORT"] = fmt.Sprintf("%d", *d.VirtualPort)
		}
		// Best-effort: a failure to patch one service must not block the rest.
		_ = workflow.ExecuteActivity(ctx, "UpdateServiceEnv", activity.UpdateServiceEnvParams{
			Name: serviceName,
			Env:  env,
		}).Get(ctx, nil)
	}

	return publishEnvironmentEvent(ctx, params.EnvID, "environment.made_public")
}

// publishEnvironmentEvent delegates to the PublishEvent activity.
func publishEnvironmentEvent(ctx workflow.Context, envID, eventType string) error {
	return workflow.ExecuteActivity(ctx, "PublishEvent", activity.PublishEventParams{
		Type:  eventType,
		EnvID: envID,
	}).Get(ctx, nil)
}
