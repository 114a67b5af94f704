// Package recovery reconciles persisted environment/deployment state against
// live Docker Swarm resources at process startup, before the core-api
// accepts traffic, so a restart after a crash never leaves the database
// pointing at resources the driver no longer recognizes.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/events"
	"github.com/edvin/hosting/internal/model"
)

// backoff schedule: 1s, 2s, 4s, 8s, capped at 10s, at most 10 attempts.
const (
	maxAttempts = 10
	initialWait = 1 * time.Second
	maxWait     = 10 * time.Second
)

// Supervisor reconciles every non-terminal environment and deployment
// against the driver's live view once at boot.
type Supervisor struct {
	store  *activity.Store
	driver driver.Driver
	bus    *events.Bus
	logger zerolog.Logger
}

func New(store *activity.Store, d driver.Driver, bus *events.Bus, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		store:  store,
		driver: d,
		bus:    bus,
		logger: logger.With().Str("component", "recovery").Logger(),
	}
}

// Run reconciles environments first (so their overlay networks exist
// before deployment services that depend on them are checked), then
// deployments. Per-resource failures are logged and do not abort the rest
// of the sweep.
func (s *Supervisor) Run(ctx context.Context) error {
	environments, err := s.store.ListActiveEnvironments(ctx)
	if err != nil {
		return fmt.Errorf("list active environments: %w", err)
	}
	envByID := make(map[string]model.Environment, len(environments))
	for _, env := range environments {
		envByID[env.ID] = env
		s.reconcileEnvironment(ctx, env)
	}

	deployments, err := s.store.ListActiveDeployments(ctx)
	if err != nil {
		return fmt.Errorf("list active deployments: %w", err)
	}
	for _, d := range deployments {
		if d.Status != model.DeploymentStatusRunning {
			// A deployment caught mid-transition at crash time has no
			// driver-visible service worth reconciling; the worker's next
			// retry (or a fresh deploy) owns it instead.
			continue
		}
		env, ok := envByID[d.EnvID]
		if !ok {
			s.logger.Warn().Str("deployment_id", d.ID).Str("env_id", d.EnvID).
				Msg("skipping deployment with no active environment")
			continue
		}
		s.reconcileDeployment(ctx, env, d)
	}

	return nil
}

func (s *Supervisor) reconcileEnvironment(ctx context.Context, env model.Environment) {
	log := s.logger.With().Str("env_id", env.ID).Str("overlay", env.OverlayName).Logger()

	_, err := retry(ctx, func() (string, error) {
		return s.driver.CreateOverlayNetwork(ctx, env.OverlayName, map[string]string{
			driver.ManagedLabel: "true",
			"env_id":            env.ID,
		})
	})
	if err != nil {
		log.Error().Err(err).Msg("overlay network missing and could not be recreated")
		msg := err.Error()
		_ = s.store.UpdateEnvironmentStatus(ctx, activity.UpdateEnvironmentStatusParams{
			EnvID:        env.ID,
			Status:       model.EnvironmentStatusError,
			ErrorMessage: &msg,
		})
		s.publish(ctx, "environment.error", env.UserID)
		return
	}

	log.Info().Msg("environment network confirmed")
}

func (s *Supervisor) reconcileDeployment(ctx context.Context, env model.Environment, d model.Deployment) {
	serviceName := fmt.Sprintf("job_%s_%s", env.Name, d.JobID)
	log := s.logger.With().Str("deployment_id", d.ID).Str("service", serviceName).Logger()

	status, err := retry(ctx, func() (*driver.ServiceStatus, error) {
		return s.driver.GetServiceStatus(ctx, serviceName)
	})
	if err != nil {
		log.Error().Err(err).Msg("could not query service status after retries")
		s.markRecoveryFailed(ctx, env, d, err)
		return
	}

	if status.Exists && status.RunningReplicas > 0 {
		log.Info().Str("health", status.Health).Msg("deployment service confirmed running")
		s.publish(ctx, "deployment.recovered", env.UserID)
		return
	}

	log.Warn().Msg("service missing or has no running replicas; recreating from persisted state")
	if err := s.recreateService(ctx, env, d, serviceName); err != nil {
		log.Error().Err(err).Msg("could not recreate service")
		s.markRecoveryFailed(ctx, env, d, err)
		return
	}

	log.Info().Msg("service recreated")
	s.publish(ctx, "deployment.recovered", env.UserID)
}

// recreateService rebuilds a RUNNING deployment's Swarm service from its
// persisted columns, the same construction startService uses at deploy
// time, reusing the overlay network recreation retried above for the
// environment sweep. Resource limits and health checks have no persisted
// column to rebuild from, so a recreated service carries neither; they are
// only ever set on the first, caller-driven deploy.
func (s *Supervisor) recreateService(ctx context.Context, env model.Environment, d model.Deployment, serviceName string) error {
	networkID := env.OverlayName
	if env.DriverNetworkID != nil {
		networkID = *env.DriverNetworkID
	}

	if _, err := retry(ctx, func() (string, error) {
		return s.driver.CreateOverlayNetwork(ctx, env.OverlayName, map[string]string{
			driver.ManagedLabel: "true",
			"env_id":            env.ID,
		})
	}); err != nil {
		return fmt.Errorf("recreate overlay network: %w", err)
	}

	ports := make([]driver.PortMapping, len(d.Ports))
	for i, p := range d.Ports {
		ports[i] = driver.PortMapping{Container: p.Container, Host: p.Host}
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

	spec := driver.ServiceSpec{
		Name:      serviceName,
		Image:     fmt.Sprintf("%s:%s", d.Image, d.Tag),
		Env:       envVars,
		Ports:     ports,
		NetworkID: networkID,
		Replicas:  uint64(d.Replicas),
		Labels:    map[string]string{"env_id": env.ID, "deployment_id": d.ID},
	}

	_, err := retry(ctx, func() (string, error) {
		return s.driver.CreateService(ctx, spec)
	})
	if err != nil {
		return fmt.Errorf("recreate service: %w", err)
	}
	return nil
}

func (s *Supervisor) markRecoveryFailed(ctx context.Context, env model.Environment, d model.Deployment, cause error) {
	msg := cause.Error()
	_ = s.store.UpdateDeploymentStatus(ctx, activity.UpdateDeploymentStatusParams{
		DeploymentID: d.ID,
		Status:       model.DeploymentStatusFailed,
		ErrorMessage: &msg,
		MarkComplete: true,
	})
	s.publish(ctx, "deployment.recovery-failed", env.UserID)
}

func (s *Supervisor) publish(ctx context.Context, eventType, userID string) {
	if s.bus == nil {
		return
	}
	if err := events.Publish(ctx, s.bus, eventType, userID, struct{}{}); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("failed to publish recovery event")
	}
}

// retry runs fn with exponential backoff (1s, 2s, 4s, ... capped at 10s),
// up to maxAttempts times, returning the last error if none succeed.
func retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	wait := initialWait
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
	return zero, lastErr
}
