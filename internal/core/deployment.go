package core

import (
	"context"
	"fmt"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/buildlog"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/model"
	"github.com/edvin/hosting/internal/platform"
	"github.com/edvin/hosting/internal/workflow"
)

const jobIDLength = 16

// DeploymentService owns the per-environment deployment aggregate:
// scheduling the registry/Git worker, status lookups, and explicit
// stop/delete. Ownership is always enforced by joining through the parent
// environment's user_id.
type DeploymentService struct {
	db       DB
	tc       temporalclient.Client
	driver   driver.Driver
	archiver *buildlog.Archiver
}

func NewDeploymentService(db DB, tc temporalclient.Client, d driver.Driver, archiver *buildlog.Archiver) *DeploymentService {
	return &DeploymentService{db: db, tc: tc, driver: d, archiver: archiver}
}

// CreateRegistryInput is the entry contract for CreateFromRegistry.
type CreateRegistryInput struct {
	EnvID       string              `json:"env_id"`
	Image       string              `json:"image"`
	Tag         string              `json:"tag"`
	Replicas    int                 `json:"replicas"`
	Ports       []model.PortMapping `json:"ports"`
	EnvVars     map[string]string   `json:"env_vars"`
	VolumeNames []string            `json:"volumes"`
}

// CreateGitInput is the entry contract for CreateFromGit.
type CreateGitInput struct {
	EnvID       string              `json:"env_id"`
	GitURL      string              `json:"git_url"`
	Branch      string              `json:"branch"`
	BaseImage   string              `json:"base_image"`
	InstallCmd  string              `json:"install_cmd"`
	BuildCmd    string              `json:"build_cmd"`
	StartCmd    string              `json:"start_cmd"`
	Replicas    int                 `json:"replicas"`
	Ports       []model.PortMapping `json:"ports"`
	EnvVars     map[string]string   `json:"env_vars"`
	VolumeNames []string            `json:"volumes"`
}

// CreateFromRegistry verifies env ownership and ACTIVE status, assigns a
// job ID, persists the row in PENDING, and schedules the registry worker.
// It returns immediately without waiting for the deployment to complete.
func (s *DeploymentService) CreateFromRegistry(ctx context.Context, userID string, in CreateRegistryInput) (*model.Deployment, error) {
	env, tag, err := s.prepare(ctx, userID, in.EnvID, in.Tag)
	if err != nil {
		return nil, err
	}

	d := &model.Deployment{
		ID:       platform.NewID(),
		EnvID:    env.ID,
		JobID:    platform.NewOpaqueToken(jobIDLength),
		Image:    in.Image,
		Tag:      tag,
		Replicas: in.Replicas,
		Ports:    in.Ports,
		EnvVars:  in.EnvVars,
		Volumes:  in.VolumeNames,
		Status:   model.DeploymentStatusPending,
	}

	if err := s.insert(ctx, d); err != nil {
		return nil, err
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("deploy-registry-%s", d.ID),
		TaskQueue: taskQueue,
	}, "DeployFromRegistryWorkflow", deployParams(env, d))
	if err != nil {
		return nil, fmt.Errorf("start DeployFromRegistryWorkflow: %w", err)
	}

	return d, nil
}

// CreateFromGit follows the same entry contract as CreateFromRegistry but
// assigns a generated image name/tag and has the worker build the image
// from source before creating volumes and the service.
func (s *DeploymentService) CreateFromGit(ctx context.Context, userID string, in CreateGitInput) (*model.Deployment, error) {
	branch := in.Branch
	if branch == "" {
		branch = "main"
	}
	env, tag, err := s.prepare(ctx, userID, in.EnvID, branch)
	if err != nil {
		return nil, err
	}

	image := fmt.Sprintf("img_%s_%d", env.Name, time.Now().Unix())

	d := &model.Deployment{
		ID:        platform.NewID(),
		EnvID:     env.ID,
		JobID:     platform.NewOpaqueToken(jobIDLength),
		Image:     image,
		Tag:       tag,
		Replicas:  in.Replicas,
		Ports:     in.Ports,
		EnvVars:   in.EnvVars,
		Volumes:   in.VolumeNames,
		Status:    model.DeploymentStatusPending,
		GitURL:    in.GitURL,
		GitBranch: branch,
	}

	if err := s.insert(ctx, d); err != nil {
		return nil, err
	}

	buildSpec := activity.GitBuildSpec{
		GitURL:     in.GitURL,
		Branch:     branch,
		BaseImage:  in.BaseImage,
		InstallCmd: in.InstallCmd,
		BuildCmd:   in.BuildCmd,
		StartCmd:   in.StartCmd,
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("deploy-git-%s", d.ID),
		TaskQueue: taskQueue,
	}, "DeployFromGitWorkflow", deployParams(env, d), buildSpec, d.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("start DeployFromGitWorkflow: %w", err)
	}

	return d, nil
}

// deploymentColumns lists the deployment row columns in scan order, shared
// by GetStatus and GetByID. ListByEnvironment spells out the same columns,
// in the same order, in its own query.
const deploymentColumns = `d.id, d.env_id, d.job_id, d.image, d.tag, d.replicas, d.ports, d.env_vars, d.volumes,
		d.virtual_host, d.virtual_port, d.status, d.error_message, d.started_at, d.completed_at,
		d.current_version, d.git_url, d.git_branch, d.git_commit_sha, d.created_at, d.updated_at`

// GetStatus returns the deployment row by its job_id, the public polling
// handle, enforcing ownership by filtering on the parent environment's
// user_id.
func (s *DeploymentService) GetStatus(ctx context.Context, userID, jobID string) (*model.Deployment, error) {
	var d model.Deployment
	err := s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+`
		 FROM deployments d
		 JOIN environments e ON e.id = d.env_id
		 WHERE d.job_id = $1 AND e.user_id = $2`, jobID, userID,
	).Scan(&d.ID, &d.EnvID, &d.JobID, &d.Image, &d.Tag, &d.Replicas, &d.Ports, &d.EnvVars, &d.Volumes,
		&d.VirtualHost, &d.VirtualPort, &d.Status, &d.ErrorMessage, &d.StartedAt, &d.CompletedAt,
		&d.CurrentVersion, &d.GitURL, &d.GitBranch, &d.GitCommitSHA, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", jobID, err)
	}
	return &d, nil
}

// GetByID returns the deployment row by its deployment_id, the identifier
// named throughout the rest of the API (logs, delete), enforcing ownership
// the same way GetStatus does.
func (s *DeploymentService) GetByID(ctx context.Context, userID, deploymentID string) (*model.Deployment, error) {
	var d model.Deployment
	err := s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+`
		 FROM deployments d
		 JOIN environments e ON e.id = d.env_id
		 WHERE d.id = $1 AND e.user_id = $2`, deploymentID, userID,
	).Scan(&d.ID, &d.EnvID, &d.JobID, &d.Image, &d.Tag, &d.Replicas, &d.Ports, &d.EnvVars, &d.Volumes,
		&d.VirtualHost, &d.VirtualPort, &d.Status, &d.ErrorMessage, &d.StartedAt, &d.CompletedAt,
		&d.CurrentVersion, &d.GitURL, &d.GitBranch, &d.GitCommitSHA, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", deploymentID, err)
	}
	return &d, nil
}

// ListByEnvironment enforces ownership, then returns newest-first.
func (s *DeploymentService) ListByEnvironment(ctx context.Context, userID, envID string) ([]model.Deployment, error) {
	var owner string
	err := s.db.QueryRow(ctx, `SELECT user_id FROM environments WHERE id = $1`, envID).Scan(&owner)
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", envID, err)
	}
	if owner != userID {
		return nil, fmt.Errorf("environment %s: %w", envID, ErrNotFound)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, env_id, job_id, image, tag, replicas, ports, env_vars, volumes, virtual_host, virtual_port,
		        status, error_message, started_at, completed_at, current_version, git_url, git_branch, git_commit_sha,
		        created_at, updated_at
		 FROM deployments WHERE env_id = $1 ORDER BY created_at DESC`, envID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments for environment %s: %w", envID, err)
	}
	defer rows.Close()

	var deployments []model.Deployment
	for rows.Next() {
		var d model.Deployment
		if err := rows.Scan(&d.ID, &d.EnvID, &d.JobID, &d.Image, &d.Tag, &d.Replicas, &d.Ports, &d.EnvVars, &d.Volumes,
			&d.VirtualHost, &d.VirtualPort, &d.Status, &d.ErrorMessage, &d.StartedAt, &d.CompletedAt, &d.CurrentVersion,
			&d.GitURL, &d.GitBranch, &d.GitCommitSHA, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}

// Stop explicitly removes a running deployment's service and, unless
// preserveVolumes is set, its volumes, then hard-deletes the row — the
// only path out of RUNNING once a deployment has gone live.
func (s *DeploymentService) Stop(ctx context.Context, userID, deploymentID string, preserveVolumes bool) error {
	d, err := s.GetByID(ctx, userID, deploymentID)
	if err != nil {
		return err
	}
	if d.Status != model.DeploymentStatusRunning {
		return fmt.Errorf("deployment %s is not running: %w", deploymentID, ErrConflict)
	}

	env, err := s.getEnvironment(ctx, d.EnvID)
	if err != nil {
		return err
	}
	serviceName := fmt.Sprintf("job_%s_%s", env.Name, d.JobID)

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("stop-deployment-%s", d.ID),
		TaskQueue: taskQueue,
	}, "StopDeploymentWorkflow", workflow.StopDeploymentParams{
		DeploymentID:    d.ID,
		ServiceName:     serviceName,
		Volumes:         d.Volumes,
		PreserveVolumes: preserveVolumes,
	})
	if err != nil {
		return fmt.Errorf("start StopDeploymentWorkflow: %w", err)
	}
	return nil
}

// GetArchivedBuildLog recovers a build transcript for a FAILED Git
// deployment whose container has already been removed.
func (s *DeploymentService) GetArchivedBuildLog(ctx context.Context, userID, deploymentID string) (string, error) {
	d, err := s.GetByID(ctx, userID, deploymentID)
	if err != nil {
		return "", err
	}
	if s.archiver == nil {
		return "", fmt.Errorf("build log archival is not configured: %w", ErrNotFound)
	}
	return s.archiver.Get(ctx, d.ID, d.CurrentVersion)
}

// GetLogs returns the requested tail of a deployment's logs. A RUNNING
// deployment reads live from the driver; a FAILED Git deployment whose
// container is already gone falls back to the archived build transcript.
func (s *DeploymentService) GetLogs(ctx context.Context, userID, deploymentID string, tail int) (string, error) {
	d, err := s.GetByID(ctx, userID, deploymentID)
	if err != nil {
		return "", err
	}

	if d.Status == model.DeploymentStatusRunning {
		env, err := s.getEnvironment(ctx, d.EnvID)
		if err != nil {
			return "", err
		}
		serviceName := fmt.Sprintf("job_%s_%s", env.Name, d.JobID)
		logs, err := s.driver.GetServiceLogs(ctx, serviceName, tail)
		if err != nil {
			return "", fmt.Errorf("get service logs: %w", err)
		}
		return logs, nil
	}

	if d.IsGit() && d.Status == model.DeploymentStatusFailed {
		return s.GetArchivedBuildLog(ctx, userID, deploymentID)
	}

	return "", fmt.Errorf("deployment %s has no retrievable logs: %w", deploymentID, ErrConflict)
}

// ServiceNameFor resolves the Swarm service name for a deployment, used by
// the log-streaming handler to open a live reader against the driver.
func (s *DeploymentService) ServiceNameFor(ctx context.Context, userID, deploymentID string) (*model.Deployment, string, error) {
	d, err := s.GetByID(ctx, userID, deploymentID)
	if err != nil {
		return nil, "", err
	}
	env, err := s.getEnvironment(ctx, d.EnvID)
	if err != nil {
		return nil, "", err
	}
	return d, fmt.Sprintf("job_%s_%s", env.Name, d.JobID), nil
}

// Driver exposes the underlying Docker Driver for handlers that need to
// open a live log stream or exec session directly, bypassing the Temporal
// workflow path since these are read-only, synchronous operations.
func (s *DeploymentService) Driver() driver.Driver {
	return s.driver
}

func (s *DeploymentService) prepare(ctx context.Context, userID, envID, tag string) (*model.Environment, string, error) {
	env, err := s.getEnvironmentOwned(ctx, userID, envID)
	if err != nil {
		return nil, "", err
	}
	if env.Status != model.EnvironmentStatusActive {
		return nil, "", fmt.Errorf("environment %s is not active: %w", envID, ErrConflict)
	}
	if tag == "" {
		tag = "latest"
	}
	return env, tag, nil
}

func (s *DeploymentService) insert(ctx context.Context, d *model.Deployment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployments (id, env_id, job_id, image, tag, replicas, ports, env_vars, volumes,
		                          virtual_port, status, current_version, git_url, git_branch, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13, now(), now())`,
		d.ID, d.EnvID, d.JobID, d.Image, d.Tag, d.Replicas, d.Ports, d.EnvVars, d.Volumes,
		d.VirtualPort, d.Status, d.GitURL, d.GitBranch,
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	d.CurrentVersion = 1
	return nil
}

func (s *DeploymentService) getEnvironmentOwned(ctx context.Context, userID, envID string) (*model.Environment, error) {
	env, err := s.getEnvironment(ctx, envID)
	if err != nil {
		return nil, err
	}
	if env.UserID != userID {
		return nil, fmt.Errorf("environment %s: %w", envID, ErrNotFound)
	}
	return env, nil
}

func (s *DeploymentService) getEnvironment(ctx context.Context, envID string) (*model.Environment, error) {
	var e model.Environment
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, overlay_name, driver_network_id, status, is_public, public_domain, error_message, created_at, updated_at
		 FROM environments WHERE id = $1`, envID,
	).Scan(&e.ID, &e.UserID, &e.Name, &e.OverlayName, &e.DriverNetworkID, &e.Status,
		&e.IsPublic, &e.PublicDomain, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", envID, err)
	}
	return &e, nil
}

// deployParams translates the env/deployment rows into the workflow's
// driver-facing shape, merging in the proxy env vars when the deployment
// is entering an environment that is already public (a deployment into a
// not-yet-public environment picks these up later, via
// MakeEnvironmentPublicWorkflow's best-effort patch).
func deployParams(env *model.Environment, d *model.Deployment) workflow.DeployParams {
	ports := make([]driver.PortMapping, len(d.Ports))
	for i, p := range d.Ports {
		ports[i] = driver.PortMapping{Container: p.Container, Host: p.Host}
	}

	networkID := env.OverlayName
	if env.DriverNetworkID != nil {
		networkID = *env.DriverNetworkID
	}

	envVars := make(map[string]string, len(d.EnvVars)+3)
	for k, v := range d.EnvVars {
		envVars[k] = v
	}
	if env.IsPublic && env.PublicDomain != nil {
		envVars["VIRTUAL_HOST"] = *env.PublicDomain
		envVars["LETSENCRYPT_HOST"] = *env.PublicDomain
		if d.VirtualPort != nil {
			envVars["VIRTUAL_PORT"] = fmt.Sprintf("%d", *d.VirtualPort)
		}
	}

	return workflow.DeployParams{
		DeploymentID: d.ID,
		EnvID:        env.ID,
		EnvName:      env.Name,
		NetworkID:    networkID,
		JobID:        d.JobID,
		Image:        d.Image,
		Tag:          d.Tag,
		Replicas:     d.Replicas,
		Ports:        ports,
		EnvVars:      envVars,
		VolumeNames:  d.Volumes,
	}
}
