package model

import "time"

// PortMapping describes a host<->container port binding for a deployment.
type PortMapping struct {
	Container int `json:"container"`
	Host      int `json:"host"`
}

// Deployment is the desired state of one workload, either registry- or
// Git-sourced.
type Deployment struct {
	ID             string            `json:"deployment_id"`
	EnvID          string            `json:"env_id"`
	JobID          string            `json:"job_id"`
	Image          string            `json:"image"`
	Tag            string            `json:"tag"`
	Replicas       int               `json:"replicas"`
	Ports          []PortMapping     `json:"ports"`
	EnvVars        map[string]string `json:"env_vars"`
	Volumes        []string          `json:"volumes"`
	VirtualHost    *string           `json:"virtual_host,omitempty"`
	VirtualPort    *int              `json:"virtual_port,omitempty"`
	Status         string            `json:"status"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CurrentVersion int               `json:"current_version"`

	// Git-sourced fields, empty for registry deployments.
	GitURL       string  `json:"git_url,omitempty"`
	GitBranch    string  `json:"git_branch,omitempty"`
	GitCommitSHA *string `json:"git_commit_sha,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGit reports whether this deployment was built from a Git repository.
func (d *Deployment) IsGit() bool {
	return d.GitURL != ""
}

// Service is the Swarm-service projection of a Deployment (1:1).
type Service struct {
	ID              string    `json:"service_id"`
	DeploymentID    string    `json:"deployment_id"`
	DriverServiceID *string   `json:"driver_service_id,omitempty"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	Health          string    `json:"health"`
	RestartCount    int       `json:"restart_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DeploymentVersion is an append-only desired-state snapshot.
type DeploymentVersion struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Version      int       `json:"version"`
	Snapshot     []byte    `json:"snapshot"` // JSON blob of the desired-state fields at this version
	CreatedAt    time.Time `json:"created_at"`
}

// DeploymentUpdate records a transition between two DeploymentVersions.
// The current implementation writes but does not execute updates; it is a
// reserved extension point.
type DeploymentUpdate struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Strategy     string    `json:"strategy"`
	FromVersion  int       `json:"from_version"`
	ToVersion    int       `json:"to_version"`
	Status       string    `json:"status"`
	Changes      []byte    `json:"changes"`
	CreatedAt    time.Time `json:"created_at"`
}
