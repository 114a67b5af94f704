package driver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/edvin/hosting/internal/config"
)

// DockerDriver implements Driver against a single Docker Swarm daemon,
// reached over the configured socket or TLS-secured remote endpoint.
type DockerDriver struct {
	host      string
	tlsConfig *tls.Config
}

// NewDockerDriver builds a DockerDriver from config. It does not dial
// eagerly; a client is constructed per call, mirroring the teacher's
// per-call client construction (the Docker socket is serialized by the
// engine itself, so no additional pooling is needed).
func NewDockerDriver(cfg *config.Config) (*DockerDriver, error) {
	host := "unix://" + cfg.DockerSocketPath
	if strings.Contains(cfg.DockerSocketPath, "://") {
		host = cfg.DockerSocketPath
	}

	d := &DockerDriver{host: host}

	if cfg.DockerTLSCert != "" && cfg.DockerTLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.DockerTLSCert, cfg.DockerTLSKey)
		if err != nil {
			return nil, fmt.Errorf("load docker client cert: %w", err)
		}
		tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

		if cfg.DockerTLSCA != "" {
			caPEM, err := os.ReadFile(cfg.DockerTLSCA)
			if err != nil {
				return nil, fmt.Errorf("read docker CA cert: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("failed to parse docker CA cert")
			}
			tlsConfig.RootCAs = pool
		}
		d.tlsConfig = tlsConfig
	}

	return d, nil
}

func (d *DockerDriver) client() (*client.Client, error) {
	opts := []client.Opt{
		client.WithHost(d.host),
		client.WithAPIVersionNegotiation(),
	}
	if d.tlsConfig != nil {
		opts = append(opts, client.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: d.tlsConfig},
		}))
	}
	return client.NewClientWithOpts(opts...)
}

func withManaged(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[ManagedLabel] = "true"
	return out
}

func (d *DockerDriver) CreateOverlayNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	resp, err := cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:     "overlay",
		Attachable: true,
		Labels:     withManaged(labels),
	})
	if err != nil {
		if isConflict(err) {
			existing, inspectErr := cli.NetworkInspect(ctx, name, network.InspectOptions{})
			if inspectErr == nil {
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("create overlay network %s: %w", name, err)
	}
	return resp.ID, nil
}

func (d *DockerDriver) DeleteNetwork(ctx context.Context, idOrName string) error {
	cli, err := d.client()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.NetworkRemove(ctx, idOrName); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove network %s: %w", idOrName, err)
	}
	return nil
}

func (d *DockerDriver) ConnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error {
	cli, err := d.client()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.NetworkConnect(ctx, networkIDOrName, containerNameOrID, nil); err != nil {
		if strings.Contains(err.Error(), "already exists in network") || strings.Contains(err.Error(), "already connected") {
			return nil
		}
		return fmt.Errorf("connect %s to %s: %w", containerNameOrID, networkIDOrName, err)
	}
	return nil
}

func (d *DockerDriver) DisconnectSidecar(ctx context.Context, containerNameOrID, networkIDOrName string) error {
	cli, err := d.client()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.NetworkDisconnect(ctx, networkIDOrName, containerNameOrID, false); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("disconnect %s from %s: %w", containerNameOrID, networkIDOrName, err)
	}
	return nil
}

func (d *DockerDriver) CreateVolume(ctx context.Context, name string, labels map[string]string) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	vol, err := cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Labels: withManaged(labels),
	})
	if err != nil {
		if isConflict(err) {
			return name, nil
		}
		return "", fmt.Errorf("create volume %s: %w", name, err)
	}
	return vol.Name, nil
}

func (d *DockerDriver) DeleteVolume(ctx context.Context, name string) error {
	cli, err := d.client()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.VolumeRemove(ctx, name, false); err != nil {
		if isNotFound(err) {
			return nil
		}
		// In-use is a warning at the caller, never an error here.
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

func (d *DockerDriver) PullImage(ctx context.Context, img string) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	reader, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", fmt.Errorf("pull image %s: drain progress: %w", img, err)
	}

	inspect, _, err := cli.ImageInspectWithRaw(ctx, img)
	if err != nil {
		return "", fmt.Errorf("inspect image %s: %w", img, err)
	}
	digest := ""
	if len(inspect.RepoDigests) > 0 {
		digest = inspect.RepoDigests[0]
	}
	return digest, nil
}

func (d *DockerDriver) BuildImageFromTar(ctx context.Context, tarStream io.Reader, tag string) (io.ReadCloser, error) {
	cli, err := d.client()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	resp, err := cli.ImageBuild(ctx, tarStream, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("build image %s: %w", tag, err)
	}
	return &closeClientReader{ReadCloser: resp.Body, cli: cli}, nil
}

// closeClientReader closes the underlying client when the stream is closed,
// since ImageBuild's response body outlives the call that produced it.
type closeClientReader struct {
	io.ReadCloser
	cli *client.Client
}

func (c *closeClientReader) Close() error {
	err := c.ReadCloser.Close()
	c.cli.Close()
	return err
}

// ParseBuildStream consumes a Docker build event stream and reports success
// or the failure message, per the explicit state machine: presence of
// "Successfully built" marks success; presence of "error"/"errorDetail"
// marks failure with the included message; absence of the success marker
// at stream end is failure.
func ParseBuildStream(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var success bool
	var buildErr string

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev BuildEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Error != "" {
			buildErr = ev.Error
		} else if ev.ErrorDetail.Message != "" {
			buildErr = ev.ErrorDetail.Message
		}
		if strings.Contains(ev.Stream, "Successfully built") {
			success = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read build stream: %w", err)
	}
	if buildErr != "" {
		return fmt.Errorf("build failed: %s", buildErr)
	}
	if !success {
		return fmt.Errorf("build stream ended without success marker")
	}
	return nil
}

func (d *DockerDriver) CreateService(ctx context.Context, spec ServiceSpec) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	swarmMounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		swarmMounts = append(swarmMounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: m.Source,
			Target: m.Target,
		})
	}

	var ports []swarm.PortConfig
	for _, pm := range spec.Ports {
		containerPort, err := nat.NewPort("tcp", strconv.Itoa(pm.Container))
		if err != nil {
			return "", fmt.Errorf("invalid container port %d: %w", pm.Container, err)
		}
		hostPort, err := nat.ParsePort(strconv.Itoa(pm.Host))
		if err != nil {
			return "", fmt.Errorf("invalid host port %d: %w", pm.Host, err)
		}
		ports = append(ports, swarm.PortConfig{
			Protocol:      swarm.PortConfigProtocolTCP,
			TargetPort:    uint32(containerPort.Int()),
			PublishedPort: uint32(hostPort),
			PublishMode:   swarm.PortConfigPublishModeIngress,
		})
	}

	containerSpec := &swarm.ContainerSpec{
		Image:  spec.Image,
		Env:    env,
		Mounts: swarmMounts,
		Privileges: &swarm.Privileges{
			NoNewPrivileges: true,
		},
		CapabilityDrop: []string{"ALL"},
	}
	if spec.HealthCheck != nil {
		containerSpec.Healthcheck = &container.HealthConfig{
			Test:     spec.HealthCheck.Test,
			Interval: spec.HealthCheck.Interval,
			Timeout:  spec.HealthCheck.Timeout,
			Retries:  spec.HealthCheck.Retries,
		}
	}

	resources := &swarm.ResourceRequirements{}
	if spec.Resources != nil {
		resources.Limits = &swarm.Limit{
			MemoryBytes: spec.Resources.MemoryMB * 1024 * 1024,
		}
	}

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}

	svcSpec := swarm.ServiceSpec{
		Annotations: swarm.Annotations{
			Name:   spec.Name,
			Labels: withManaged(spec.Labels),
		},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: containerSpec,
			Resources:     resources,
			RestartPolicy: &swarm.RestartPolicy{
				Condition:   swarm.RestartPolicyConditionOnFailure,
				MaxAttempts: uint64Ptr(3),
				Delay:       durationPtr(5),
			},
			Networks: []swarm.NetworkAttachmentConfig{
				{Target: spec.NetworkID},
			},
		},
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &replicas},
		},
		EndpointSpec: &swarm.EndpointSpec{
			Ports: ports,
		},
	}

	resp, err := cli.ServiceCreate(ctx, svcSpec, types.ServiceCreateOptions{})
	if err != nil {
		return "", fmt.Errorf("create service %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (d *DockerDriver) GetServiceStatus(ctx context.Context, name string) (*ServiceStatus, error) {
	cli, err := d.client()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	svc, _, err := cli.ServiceInspectWithRaw(ctx, name, types.ServiceInspectOptions{})
	if err != nil {
		if isNotFound(err) {
			return &ServiceStatus{Exists: false}, nil
		}
		return nil, fmt.Errorf("inspect service %s: %w", name, err)
	}

	tasks, err := cli.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", svc.ID)),
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks for service %s: %w", name, err)
	}

	desired := 1
	if svc.Spec.Mode.Replicated != nil && svc.Spec.Mode.Replicated.Replicas != nil {
		desired = int(*svc.Spec.Mode.Replicated.Replicas)
	}

	running := 0
	health := ServiceHealthNone
	for _, t := range tasks {
		if t.Status.State == swarm.TaskStateRunning {
			running++
			if t.Status.ContainerStatus != nil {
				// Swarm tasks do not directly expose container health; any
				// running task with a container status marks the service
				// healthy. A configured healthcheck's result is not consulted.
				health = ServiceHealthHealthy
			}
		}
	}
	if running == 0 {
		health = ServiceHealthStarting
	}

	return &ServiceStatus{
		Exists:          true,
		ServiceID:       svc.ID,
		Running:         running > 0,
		Health:          health,
		DesiredReplicas: desired,
		RunningReplicas: running,
	}, nil
}

// ServiceHealth* mirror the values in internal/model for the driver layer,
// which must not import internal/model (layering).
const (
	ServiceHealthHealthy  = "healthy"
	ServiceHealthStarting = "starting"
	ServiceHealthNone     = "none"
)

func (d *DockerDriver) UpdateServiceEnv(ctx context.Context, name string, env map[string]string) error {
	cli, err := d.client()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	svc, _, err := cli.ServiceInspectWithRaw(ctx, name, types.ServiceInspectOptions{})
	if err != nil {
		return fmt.Errorf("inspect service %s: %w", name, err)
	}

	if svc.Spec.TaskTemplate.ContainerSpec == nil {
		return fmt.Errorf("service %s has no container spec", name)
	}

	merged := map[string]string{}
	for _, kv := range svc.Spec.TaskTemplate.ContainerSpec.Env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			merged[parts[0]] = parts[1]
		}
	}
	for k, v := range env {
		merged[k] = v
	}
	newEnv := make([]string, 0, len(merged))
	for k, v := range merged {
		newEnv = append(newEnv, k+"="+v)
	}
	svc.Spec.TaskTemplate.ContainerSpec.Env = newEnv

	_, err = cli.ServiceUpdate(ctx, svc.ID, svc.Version, svc.Spec, types.ServiceUpdateOptions{})
	if err != nil {
		return fmt.Errorf("update service %s env: %w", name, err)
	}
	return nil
}

func (d *DockerDriver) RemoveService(ctx context.Context, name string) error {
	cli, err := d.client()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.ServiceRemove(ctx, name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove service %s: %w", name, err)
	}
	return nil
}

func (d *DockerDriver) GetServiceLogs(ctx context.Context, name string, tail int) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	reader, err := cli.ServiceLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("get logs for service %s: %w", name, err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
		return "", fmt.Errorf("read logs for service %s: %w", name, err)
	}
	return stdout.String() + stderr.String(), nil
}

func (d *DockerDriver) StreamServiceLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	cli, err := d.client()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	reader, err := cli.ServiceLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Follow:     true,
		Tail:       "50",
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("stream logs for service %s: %w", name, err)
	}
	return &closeClientReader{ReadCloser: reader, cli: cli}, nil
}

func (d *DockerDriver) ExecInServiceTask(ctx context.Context, serviceName string, cmd []string) (*ExecResult, error) {
	cli, err := d.client()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	tasks, err := cli.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", serviceName), filters.Arg("desired-state", "running")),
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks for service %s: %w", serviceName, err)
	}
	var containerID string
	for _, t := range tasks {
		if t.Status.State == swarm.TaskStateRunning && t.Status.ContainerStatus != nil {
			containerID = t.Status.ContainerStatus.ContainerID
			break
		}
	}
	if containerID == "" {
		return nil, fmt.Errorf("no running task found for service %s", serviceName)
	}

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}
	execID, err := cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("exec create in task of %s: %w", serviceName, err)
	}

	resp, err := cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach in task of %s: %w", serviceName, err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("exec read output in task of %s: %w", serviceName, err)
	}

	inspectResp, err := cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect in task of %s: %w", serviceName, err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func isNotFound(err error) bool {
	return client.IsErrNotFound(err) || strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "No such")
}

func isConflict(err error) bool {
	return strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "Conflict")
}

func uint64Ptr(v uint64) *uint64 { return &v }

func durationPtr(seconds int64) *time.Duration {
	d := time.Duration(seconds) * time.Second
	return &d
}
