package core

import (
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/hosting/internal/buildlog"
	"github.com/edvin/hosting/internal/driver"
)

// Services bundles every aggregate-level service behind the handlers.
type Services struct {
	User        *UserService
	Credential  *CredentialService
	Environment *EnvironmentService
	Deployment  *DeploymentService
}

func NewServices(db DB, tc temporalclient.Client, d driver.Driver, archiver *buildlog.Archiver) *Services {
	return &Services{
		User:        NewUserService(db),
		Credential:  NewCredentialService(db),
		Environment: NewEnvironmentService(db, tc),
		Deployment:  NewDeploymentService(db, tc, d, archiver),
	}
}
