package workflow

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/model"
)

// DeployParams is the shared input to both the registry and Git deployment
// workflows: everything the worker needs beyond the PENDING row already
// persisted by the caller.
type DeployParams struct {
	DeploymentID string               `json:"deployment_id"`
	EnvID        string               `json:"env_id"`
	EnvName      string               `json:"env_name"`
	NetworkID    string               `json:"network_id"`
	JobID        string               `json:"job_id"`
	Image        string               `json:"image"`
	Tag          string               `json:"tag"`
	Replicas     int                  `json:"replicas"`
	Ports        []driver.PortMapping `json:"ports"`
	EnvVars      map[string]string    `json:"env_vars"`
	VolumeNames  []string             `json:"volume_names"`
}

// DeployFromRegistryWorkflow runs the registry-path worker steps: pull the
// image, create the declared volumes, start the Swarm service, and record
// it RUNNING. Any failure transitions the deployment to FAILED.
func DeployFromRegistryWorkflow(ctx workflow.Context, params DeployParams) error {
	ctx = defaultActivityOptions(ctx)

	if err := startDeployment(ctx, params.DeploymentID); err != nil {
		return err
	}

	image := fmt.Sprintf("%s:%s", params.Image, params.Tag)
	if err := pullImage(ctx, params.DeploymentID, image); err != nil {
		return err
	}

	if err := createVolumes(ctx, params); err != nil {
		return err
	}

	return startService(ctx, params, image)
}

// DeployFromGitWorkflow additionally builds the image from source before
// following the same create-volumes/start-service sequence, using
// BUILDING_IMAGE in place of PULLING_IMAGE.
func DeployFromGitWorkflow(ctx workflow.Context, params DeployParams, buildSpec activity.GitBuildSpec, version int) error {
	ctx = defaultActivityOptions(ctx)

	err := workflow.ExecuteActivity(ctx, "UpdateDeploymentStatus", activity.UpdateDeploymentStatusParams{
		DeploymentID: params.DeploymentID,
		Status:       model.DeploymentStatusBuildingImage,
		MarkStarted:  true,
	}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}
	if err := publishDeploymentEvent(ctx, params.DeploymentID, "deployment.started"); err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	image := fmt.Sprintf("%s:%s", params.Image, params.Tag)
	var buildResult activity.BuildImageResult
	err = workflow.ExecuteActivity(ctx, "BuildImage", activity.BuildImageParams{
		Spec:         buildSpec,
		Tag:          image,
		DeploymentID: params.DeploymentID,
		Version:      version,
	}).Get(ctx, &buildResult)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}
	if !buildResult.Success {
		return failDeployment(ctx, params.DeploymentID, fmt.Errorf("build failed: %s", buildResult.ErrMessage))
	}

	if err := createVolumes(ctx, params); err != nil {
		return err
	}

	return startService(ctx, params, image)
}

func startDeployment(ctx workflow.Context, deploymentID string) error {
	err := workflow.ExecuteActivity(ctx, "UpdateDeploymentStatus", activity.UpdateDeploymentStatusParams{
		DeploymentID: deploymentID,
		Status:       model.DeploymentStatusPullingImage,
		MarkStarted:  true,
	}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, deploymentID, err)
	}
	return publishDeploymentEvent(ctx, deploymentID, "deployment.started")
}

func pullImage(ctx workflow.Context, deploymentID, image string) error {
	err := workflow.ExecuteActivity(ctx, "PullImage", activity.PullImageParams{Image: image}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, deploymentID, err)
	}
	return nil
}

func createVolumes(ctx workflow.Context, params DeployParams) error {
	err := workflow.ExecuteActivity(ctx, "UpdateDeploymentStatus", activity.UpdateDeploymentStatusParams{
		DeploymentID: params.DeploymentID,
		Status:       model.DeploymentStatusCreatingVolumes,
	}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	created := make([]string, 0, len(params.VolumeNames))
	for _, name := range params.VolumeNames {
		volName := fmt.Sprintf("vol_%s_%s", params.EnvName, name)
		var result activity.CreateVolumeResult
		err := workflow.ExecuteActivity(ctx, "CreateVolume", activity.CreateVolumeParams{
			Name:   volName,
			Labels: map[string]string{"env_id": params.EnvID, "deployment_id": params.DeploymentID},
		}).Get(ctx, &result)
		if err != nil {
			return failDeployment(ctx, params.DeploymentID, err)
		}
		created = append(created, result.VolumeName)
	}

	if len(created) > 0 {
		err := workflow.ExecuteActivity(ctx, "UpdateDeploymentVolumes", activity.UpdateDeploymentVolumesParams{
			DeploymentID: params.DeploymentID,
			Volumes:      created,
		}).Get(ctx, nil)
		if err != nil {
			return failDeployment(ctx, params.DeploymentID, err)
		}
	}

	return nil
}

func startService(ctx workflow.Context, params DeployParams, image string) error {
	err := workflow.ExecuteActivity(ctx, "UpdateDeploymentStatus", activity.UpdateDeploymentStatusParams{
		DeploymentID: params.DeploymentID,
		Status:       model.DeploymentStatusStartingContainer,
	}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	serviceName := fmt.Sprintf("job_%s_%s", params.EnvName, params.JobID)
	spec := driver.ServiceSpec{
		Name:      serviceName,
		Image:     image,
		Env:       params.EnvVars,
		Ports:     params.Ports,
		NetworkID: params.NetworkID,
		Replicas:  uint64(params.Replicas),
		Labels:    map[string]string{"env_id": params.EnvID, "deployment_id": params.DeploymentID},
	}

	var result activity.CreateServiceResult
	err = workflow.ExecuteActivity(ctx, "CreateService", activity.CreateServiceParams{Spec: spec}).Get(ctx, &result)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	err = workflow.ExecuteActivity(ctx, "UpsertService", activity.UpsertServiceParams{
		DeploymentID:    params.DeploymentID,
		DriverServiceID: result.ServiceID,
		Name:            serviceName,
		Status:          model.DeploymentStatusRunning,
		Health:          "starting",
	}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	err = workflow.ExecuteActivity(ctx, "UpdateDeploymentStatus", activity.UpdateDeploymentStatusParams{
		DeploymentID: params.DeploymentID,
		Status:       model.DeploymentStatusRunning,
		MarkComplete: true,
	}).Get(ctx, nil)
	if err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	return publishDeploymentEvent(ctx, params.DeploymentID, "deployment.success")
}

// StopDeploymentParams carries what StopDeploymentWorkflow needs to tear
// down a deployment beyond its ID: the live service name and the volumes
// it created, plus whether the caller asked to keep those volumes.
type StopDeploymentParams struct {
	DeploymentID    string   `json:"deployment_id"`
	ServiceName     string   `json:"service_name"`
	Volumes         []string `json:"volumes"`
	PreserveVolumes bool     `json:"preserve_volumes"`
}

// StopDeploymentWorkflow removes a running deployment's service and,
// unless told to preserve them, every volume it created, then hard-deletes
// the deployment row; the 1:1 Service row and version history cascade.
// A missing service or volume at removal time is tolerated, not fatal.
func StopDeploymentWorkflow(ctx workflow.Context, params StopDeploymentParams) error {
	ctx = defaultActivityOptions(ctx)

	if err := workflow.ExecuteActivity(ctx, "RemoveService", params.ServiceName).Get(ctx, nil); err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	if !params.PreserveVolumes {
		for _, v := range params.Volumes {
			// In-use/missing volumes are tolerated by the driver activity itself.
			_ = workflow.ExecuteActivity(ctx, "DeleteVolume", v).Get(ctx, nil)
		}
	}

	if err := workflow.ExecuteActivity(ctx, "DeleteServiceByDeployment", params.DeploymentID).Get(ctx, nil); err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	if err := workflow.ExecuteActivity(ctx, "DeleteDeployment", params.DeploymentID).Get(ctx, nil); err != nil {
		return failDeployment(ctx, params.DeploymentID, err)
	}

	return publishDeploymentEvent(ctx, params.DeploymentID, "deployment.stopped")
}

// publishDeploymentEvent delegates to the PublishEvent activity, since
// workflow code cannot call the event bus directly and must stay
// deterministic.
func publishDeploymentEvent(ctx workflow.Context, deploymentID, eventType string) error {
	return workflow.ExecuteActivity(ctx, "PublishEvent", activity.PublishEventParams{
		Type:         eventType,
		DeploymentID: deploymentID,
	}).Get(ctx, nil)
}
