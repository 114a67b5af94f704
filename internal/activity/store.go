package activity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/hosting/internal/model"
)

// DB defines the database operations used by activity structs.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store contains activities that read from and write to the core database
// on behalf of deployment and environment workflows.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// UpdateEnvironmentStatusParams sets an environment's status and, on
// failure, its error message.
type UpdateEnvironmentStatusParams struct {
	EnvID        string  `json:"env_id"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

func (s *Store) UpdateEnvironmentStatus(ctx context.Context, params UpdateEnvironmentStatusParams) error {
	_, err := s.db.Exec(ctx,
		`UPDATE environments SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		params.Status, params.ErrorMessage, params.EnvID,
	)
	if err != nil {
		return fmt.Errorf("update environment %s status: %w", params.EnvID, err)
	}
	return nil
}

// SetEnvironmentNetworkParams records the driver network ID once the
// overlay network has been created.
type SetEnvironmentNetworkParams struct {
	EnvID           string `json:"env_id"`
	OverlayName     string `json:"overlay_name"`
	DriverNetworkID string `json:"driver_network_id"`
}

func (s *Store) SetEnvironmentNetwork(ctx context.Context, params SetEnvironmentNetworkParams) error {
	_, err := s.db.Exec(ctx,
		`UPDATE environments SET overlay_name = $1, driver_network_id = $2, updated_at = now() WHERE id = $3`,
		params.OverlayName, params.DriverNetworkID, params.EnvID,
	)
	if err != nil {
		return fmt.Errorf("set environment %s network: %w", params.EnvID, err)
	}
	return nil
}

// SetEnvironmentPublicParams flips an environment to public with a domain.
type SetEnvironmentPublicParams struct {
	EnvID        string `json:"env_id"`
	PublicDomain string `json:"public_domain"`
}

func (s *Store) SetEnvironmentPublic(ctx context.Context, params SetEnvironmentPublicParams) error {
	_, err := s.db.Exec(ctx,
		`UPDATE environments SET is_public = true, public_domain = $1, updated_at = now() WHERE id = $2`,
		params.PublicDomain, params.EnvID,
	)
	if err != nil {
		return fmt.Errorf("set environment %s public: %w", params.EnvID, err)
	}
	return nil
}

func (s *Store) GetEnvironment(ctx context.Context, envID string) (*model.Environment, error) {
	var e model.Environment
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, overlay_name, driver_network_id, status, is_public, public_domain, error_message, created_at, updated_at
		 FROM environments WHERE id = $1`, envID,
	).Scan(&e.ID, &e.UserID, &e.Name, &e.OverlayName, &e.DriverNetworkID, &e.Status, &e.IsPublic, &e.PublicDomain, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", envID, err)
	}
	return &e, nil
}

func (s *Store) ListDeploymentsByEnvironment(ctx context.Context, envID string) ([]model.Deployment, error) {
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

func (s *Store) GetDeployment(ctx context.Context, deploymentID string) (*model.Deployment, error) {
	var d model.Deployment
	err := s.db.QueryRow(ctx,
		`SELECT id, env_id, job_id, image, tag, replicas, ports, env_vars, volumes, virtual_host, virtual_port,
		        status, error_message, started_at, completed_at, current_version, git_url, git_branch, git_commit_sha,
		        created_at, updated_at
		 FROM deployments WHERE id = $1`, deploymentID,
	).Scan(&d.ID, &d.EnvID, &d.JobID, &d.Image, &d.Tag, &d.Replicas, &d.Ports, &d.EnvVars, &d.Volumes,
		&d.VirtualHost, &d.VirtualPort, &d.Status, &d.ErrorMessage, &d.StartedAt, &d.CompletedAt, &d.CurrentVersion,
		&d.GitURL, &d.GitBranch, &d.GitCommitSHA, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", deploymentID, err)
	}
	return &d, nil
}

// UpdateDeploymentStatusParams advances a deployment's status, optionally
// recording an error message and start/completion timestamps.
type UpdateDeploymentStatusParams struct {
	DeploymentID string  `json:"deployment_id"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	MarkStarted  bool    `json:"mark_started"`
	MarkComplete bool    `json:"mark_complete"`
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, params UpdateDeploymentStatusParams) error {
	query := `UPDATE deployments SET status = $1, error_message = $2, updated_at = now()`
	args := []any{params.Status, params.ErrorMessage}
	if params.MarkStarted {
		query += `, started_at = now()`
	}
	if params.MarkComplete {
		query += `, completed_at = now()`
	}
	query += fmt.Sprintf(` WHERE id = $%d`, len(args)+1)
	args = append(args, params.DeploymentID)

	_, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update deployment %s status: %w", params.DeploymentID, err)
	}
	return nil
}

// UpdateDeploymentVolumesParams rewrites the persisted volumes list with
// expanded managed-volume names.
type UpdateDeploymentVolumesParams struct {
	DeploymentID string   `json:"deployment_id"`
	Volumes      []string `json:"volumes"`
}

func (s *Store) UpdateDeploymentVolumes(ctx context.Context, params UpdateDeploymentVolumesParams) error {
	_, err := s.db.Exec(ctx,
		`UPDATE deployments SET volumes = $1, updated_at = now() WHERE id = $2`,
		params.Volumes, params.DeploymentID,
	)
	if err != nil {
		return fmt.Errorf("update deployment %s volumes: %w", params.DeploymentID, err)
	}
	return nil
}

// UpsertServiceParams records (or updates) the 1:1 Service row for a
// deployment once its driver service exists.
type UpsertServiceParams struct {
	DeploymentID    string `json:"deployment_id"`
	DriverServiceID string `json:"driver_service_id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Health          string `json:"health"`
}

func (s *Store) UpsertService(ctx context.Context, params UpsertServiceParams) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO services (id, deployment_id, driver_service_id, name, status, health, restart_count, created_at, updated_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 0, now(), now())
		 ON CONFLICT (deployment_id) DO UPDATE SET
		   driver_service_id = EXCLUDED.driver_service_id,
		   name = EXCLUDED.name,
		   status = EXCLUDED.status,
		   health = EXCLUDED.health,
		   updated_at = now()`,
		params.DeploymentID, params.DriverServiceID, params.Name, params.Status, params.Health,
	)
	if err != nil {
		return fmt.Errorf("upsert service for deployment %s: %w", params.DeploymentID, err)
	}
	return nil
}

func (s *Store) DeleteServiceByDeployment(ctx context.Context, deploymentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM services WHERE deployment_id = $1`, deploymentID)
	if err != nil {
		return fmt.Errorf("delete service for deployment %s: %w", deploymentID, err)
	}
	return nil
}

// DeleteDeployment hard-deletes the deployment row. The services and
// deployment_versions/deployment_updates rows cascade via their foreign
// keys; callers that already removed the service row explicitly (to fail
// fast on a driver error before touching the row) are unaffected.
func (s *Store) DeleteDeployment(ctx context.Context, deploymentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM deployments WHERE id = $1`, deploymentID)
	if err != nil {
		return fmt.Errorf("delete deployment %s: %w", deploymentID, err)
	}
	return nil
}

// RecordDeploymentVersionParams snapshots a deployment's spec before an
// update is applied, for rollback/history purposes.
type RecordDeploymentVersionParams struct {
	DeploymentID string `json:"deployment_id"`
	Version      int    `json:"version"`
	Snapshot     []byte `json:"snapshot"`
}

func (s *Store) RecordDeploymentVersion(ctx context.Context, params RecordDeploymentVersionParams) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployment_versions (id, deployment_id, version, snapshot, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, now())`,
		params.DeploymentID, params.Version, params.Snapshot,
	)
	if err != nil {
		return fmt.Errorf("record deployment %s version %d: %w", params.DeploymentID, params.Version, err)
	}
	return nil
}

// ListActiveDeployments returns every deployment not in a terminal state,
// used by the Recovery Supervisor at startup.
func (s *Store) ListActiveDeployments(ctx context.Context) ([]model.Deployment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, env_id, job_id, image, tag, replicas, ports, env_vars, volumes, virtual_host, virtual_port,
		        status, error_message, started_at, completed_at, current_version, git_url, git_branch, git_commit_sha,
		        created_at, updated_at
		 FROM deployments WHERE status NOT IN ('FAILED', 'STOPPED')`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
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
		return nil, fmt.Errorf("iterate active deployments: %w", err)
	}
	return deployments, nil
}

// ListActiveEnvironments returns every environment expected to have a live
// overlay network, used by the Recovery Supervisor at startup.
func (s *Store) ListActiveEnvironments(ctx context.Context) ([]model.Environment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, name, overlay_name, driver_network_id, status, is_public, public_domain, error_message, created_at, updated_at
		 FROM environments WHERE status = 'ACTIVE'`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active environments: %w", err)
	}
	defer rows.Close()

	var environments []model.Environment
	for rows.Next() {
		var e model.Environment
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.OverlayName, &e.DriverNetworkID, &e.Status, &e.IsPublic,
			&e.PublicDomain, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		environments = append(environments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active environments: %w", err)
	}
	return environments, nil
}
