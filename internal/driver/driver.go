package driver

import (
	"context"
	"io"
	"time"
)

// PortMapping describes a published port on a Swarm service.
type PortMapping struct {
	Container int `json:"container"`
	Host      int `json:"host"`
}

// Mount binds a named volume into a service's container.
type Mount struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Resources holds resource limits for a service's containers.
type Resources struct {
	MemoryMB  int64 `json:"memory_mb"`
	CPUShares int64 `json:"cpu_shares"`
}

// HealthCheck holds health check configuration for a service.
type HealthCheck struct {
	Test     []string      `json:"test"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
	Retries  int           `json:"retries"`
}

// ServiceSpec describes a Swarm service to create. Every service gets
// cap_drop: ALL and no-new-privileges regardless of what the caller asks
// for; those are not caller-configurable.
type ServiceSpec struct {
	Name        string
	Image       string
	Env         map[string]string
	Mounts      []Mount
	Ports       []PortMapping
	NetworkID   string
	Replicas    uint64
	Resources   *Resources
	HealthCheck *HealthCheck
	Labels      map[string]string
}

// ServiceStatus is the live state of a Swarm service as reported by its tasks.
type ServiceStatus struct {
	Exists          bool
	ServiceID       string
	Running         bool
	Health          string // healthy, starting, none
	DesiredReplicas int
	RunningReplicas int
}

// ExecResult holds the result of executing a command inside a running task.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// BuildEvent is one parsed line of a Docker image build stream.
type BuildEvent struct {
	Stream      string `json:"stream,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDetail struct {
		Message string `json:"message,omitempty"`
	} `json:"errorDetail,omitempty"`
}

// ManagedLabel is stamped on every resource this driver creates, and is the
// sole criterion used to scope discovery and cleanup.
const ManagedLabel = "managed"

// Driver is the typed wrapper over the Docker Engine/Swarm API that the
// Deployment Engine, Environment Service, and Recovery Supervisor drive
// imperatively. It owns all label conventions and error normalization;
// handlers never see it directly.
type Driver interface {
	CreateOverlayNetwork(ctx context.Context, name string, labels map[string]string) (networkID string, err error)
	DeleteNetwork(ctx context.Context, idOrName string) error
	ConnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error
	DisconnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error

	CreateVolume(ctx context.Context, name string, labels map[string]string) (volumeName string, err error)
	DeleteVolume(ctx context.Context, name string) error

	PullImage(ctx context.Context, image string) (digest string, err error)
	BuildImageFromTar(ctx context.Context, tarStream io.Reader, tag string) (io.ReadCloser, error)

	CreateService(ctx context.Context, spec ServiceSpec) (serviceID string, err error)
	GetServiceStatus(ctx context.Context, name string) (*ServiceStatus, error)
	UpdateServiceEnv(ctx context.Context, name string, env map[string]string) error
	RemoveService(ctx context.Context, name string) error

	GetServiceLogs(ctx context.Context, name string, tail int) (string, error)
	StreamServiceLogs(ctx context.Context, name string) (io.ReadCloser, error)
	ExecInServiceTask(ctx context.Context, serviceName string, cmd []string) (*ExecResult, error)
}
