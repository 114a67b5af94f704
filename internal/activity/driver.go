package activity

import (
	"context"
	"fmt"

	"github.com/edvin/hosting/internal/driver"
)

// DriverActivities wraps the Docker Driver in Temporal-serializable params.
// Every method normalizes driver errors with enough context for the
// workflow layer to decide retry vs. terminal failure.
type DriverActivities struct {
	driver driver.Driver
}

func NewDriverActivities(d driver.Driver) *DriverActivities {
	return &DriverActivities{driver: d}
}

type CreateOverlayNetworkParams struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels"`
}

type CreateOverlayNetworkResult struct {
	NetworkID string `json:"network_id"`
}

func (a *DriverActivities) CreateOverlayNetwork(ctx context.Context, params CreateOverlayNetworkParams) (*CreateOverlayNetworkResult, error) {
	id, err := a.driver.CreateOverlayNetwork(ctx, params.Name, params.Labels)
	if err != nil {
		return nil, fmt.Errorf("create overlay network %s: %w", params.Name, err)
	}
	return &CreateOverlayNetworkResult{NetworkID: id}, nil
}

func (a *DriverActivities) DeleteNetwork(ctx context.Context, idOrName string) error {
	if err := a.driver.DeleteNetwork(ctx, idOrName); err != nil {
		return fmt.Errorf("delete network %s: %w", idOrName, err)
	}
	return nil
}

type ConnectSidecarParams struct {
	ContainerNameOrID string `json:"container_name_or_id"`
	NetworkIDOrName   string `json:"network_id_or_name"`
}

func (a *DriverActivities) ConnectSidecar(ctx context.Context, params ConnectSidecarParams) error {
	if err := a.driver.ConnectSidecar(ctx, params.ContainerNameOrID, params.NetworkIDOrName); err != nil {
		return fmt.Errorf("connect sidecar %s to %s: %w", params.ContainerNameOrID, params.NetworkIDOrName, err)
	}
	return nil
}

func (a *DriverActivities) DisconnectSidecar(ctx context.Context, params ConnectSidecarParams) error {
	if err := a.driver.DisconnectSidecar(ctx, params.ContainerNameOrID, params.NetworkIDOrName); err != nil {
		return fmt.Errorf("disconnect sidecar %s from %s: %w", params.ContainerNameOrID, params.NetworkIDOrName, err)
	}
	return nil
}

type CreateVolumeParams struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels"`
}

type CreateVolumeResult struct {
	VolumeName string `json:"volume_name"`
}

func (a *DriverActivities) CreateVolume(ctx context.Context, params CreateVolumeParams) (*CreateVolumeResult, error) {
	name, err := a.driver.CreateVolume(ctx, params.Name, params.Labels)
	if err != nil {
		return nil, fmt.Errorf("create volume %s: %w", params.Name, err)
	}
	return &CreateVolumeResult{VolumeName: name}, nil
}

func (a *DriverActivities) DeleteVolume(ctx context.Context, name string) error {
	if err := a.driver.DeleteVolume(ctx, name); err != nil {
		return fmt.Errorf("delete volume %s: %w", name, err)
	}
	return nil
}

type PullImageParams struct {
	Image string `json:"image"`
}

type PullImageResult struct {
	Digest string `json:"digest"`
}

func (a *DriverActivities) PullImage(ctx context.Context, params PullImageParams) (*PullImageResult, error) {
	digest, err := a.driver.PullImage(ctx, params.Image)
	if err != nil {
		return nil, fmt.Errorf("pull image %s: %w", params.Image, err)
	}
	return &PullImageResult{Digest: digest}, nil
}

// CreateServiceParams mirrors driver.ServiceSpec in a Temporal-serializable
// shape (driver types are already plain structs, so this is a pass-through
// wrapper kept for symmetry with the other activities).
type CreateServiceParams struct {
	Spec driver.ServiceSpec `json:"spec"`
}

type CreateServiceResult struct {
	ServiceID string `json:"service_id"`
}

func (a *DriverActivities) CreateService(ctx context.Context, params CreateServiceParams) (*CreateServiceResult, error) {
	id, err := a.driver.CreateService(ctx, params.Spec)
	if err != nil {
		return nil, fmt.Errorf("create service %s: %w", params.Spec.Name, err)
	}
	return &CreateServiceResult{ServiceID: id}, nil
}

func (a *DriverActivities) GetServiceStatus(ctx context.Context, name string) (*driver.ServiceStatus, error) {
	status, err := a.driver.GetServiceStatus(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get service status %s: %w", name, err)
	}
	return status, nil
}

type UpdateServiceEnvParams struct {
	Name string            `json:"name"`
	Env  map[string]string `json:"env"`
}

func (a *DriverActivities) UpdateServiceEnv(ctx context.Context, params UpdateServiceEnvParams) error {
	if err := a.driver.UpdateServiceEnv(ctx, params.Name, params.Env); err != nil {
		return fmt.Errorf("update service %s env: %w", params.Name, err)
	}
	return nil
}

func (a *DriverActivities) RemoveService(ctx context.Context, name string) error {
	if err := a.driver.RemoveService(ctx, name); err != nil {
		return fmt.Errorf("remove service %s: %w", name, err)
	}
	return nil
}

type GetServiceLogsParams struct {
	Name string `json:"name"`
	Tail int    `json:"tail"`
}

func (a *DriverActivities) GetServiceLogs(ctx context.Context, params GetServiceLogsParams) (string, error) {
	logs, err := a.driver.GetServiceLogs(ctx, params.Name, params.Tail)
	if err != nil {
		return "", fmt.Errorf("get logs for service %s: %w", params.Name, err)
	}
	return logs, nil
}
