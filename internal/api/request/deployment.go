package request

import "github.com/edvin/hosting/internal/model"

// CreateDeployment holds the request body for POST /deployments.
type CreateDeployment struct {
	EnvironmentID string              `json:"environmentId" validate:"required"`
	Image         string              `json:"image" validate:"required"`
	Tag           string              `json:"tag"`
	Replicas      int                 `json:"replicas"`
	Ports         []model.PortMapping `json:"ports"`
	EnvVars       map[string]string   `json:"envVars"`
	Volumes       []string            `json:"volumes"`
}

// CreateGitDeployment holds the request body for POST /deployments/from-git:
// the registry body plus the Git build parameters.
type CreateGitDeployment struct {
	CreateDeployment
	GitURL         string `json:"gitUrl" validate:"required"`
	Branch         string `json:"branch"`
	BaseImage      string `json:"baseImage"`
	InstallCommand string `json:"installCommand"`
	BuildCommand   string `json:"buildCommand"`
	StartCommand   string `json:"startCommand"`
}
