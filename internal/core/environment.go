package core

import (
	"context"
	"fmt"
	"regexp"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/hosting/internal/model"
	"github.com/edvin/hosting/internal/platform"
	"github.com/edvin/hosting/internal/workflow"
)

const taskQueue = "hosting-tasks"

var envNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
var domainPattern = regexp.MustCompile(`^[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// EnvironmentService owns the per-user overlay-network aggregate: creation,
// deletion, and public exposure. Every mutating call inserts/updates the
// row synchronously and hands the driver work off to a Temporal workflow.
type EnvironmentService struct {
	db DB
	tc temporalclient.Client
}

func NewEnvironmentService(db DB, tc temporalclient.Client) *EnvironmentService {
	return &EnvironmentService{db: db, tc: tc}
}

// Create validates the name, enforces per-user uniqueness, inserts the row
// in CREATING, and starts CreateEnvironmentWorkflow to stand up the
// overlay network.
func (s *EnvironmentService) Create(ctx context.Context, userID, name string) (*model.Environment, error) {
	if !envNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid environment name %q: %w", name, ErrInvalidInput)
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM environments WHERE user_id = $1 AND name = $2)`, userID, name,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check environment name uniqueness: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("environment %q already exists: %w", name, ErrConflict)
	}

	env := &model.Environment{
		ID:     platform.NewID(),
		UserID: userID,
		Name:   name,
		Status: model.EnvironmentStatusCreating,
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO environments (id, user_id, name, overlay_name, status, is_public, created_at, updated_at)
		 VALUES ($1, $2, $3, '', $4, false, now(), now())`,
		env.ID, env.UserID, env.Name, env.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert environment: %w", err)
	}

	overlayName := fmt.Sprintf("overlay_env_%s_%d", name, time.Now().UnixMilli())

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("create-environment-%s", env.ID),
		TaskQueue: taskQueue,
	}, "CreateEnvironmentWorkflow", workflow.CreateEnvironmentParams{
		EnvID:       env.ID,
		OverlayName: overlayName,
		Labels: map[string]string{
			"env_id":  env.ID,
			"user_id": userID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start CreateEnvironmentWorkflow: %w", err)
	}

	return env, nil
}

// Delete is idempotent against DELETING/DELETED: re-issuing it against an
// environment already tearing down is a no-op.
func (s *EnvironmentService) Delete(ctx context.Context, userID, envID string) error {
	env, err := s.getOwned(ctx, userID, envID)
	if err != nil {
		return err
	}
	if env.Status == model.EnvironmentStatusDeleting || env.Status == model.EnvironmentStatusDeleted {
		return nil
	}

	var networkID string
	if env.DriverNetworkID != nil {
		networkID = *env.DriverNetworkID
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("delete-environment-%s", env.ID),
		TaskQueue: taskQueue,
	}, "DeleteEnvironmentWorkflow", workflow.DeleteEnvironmentParams{
		EnvID:           env.ID,
		EnvName:         env.Name,
		OverlayName:     env.OverlayName,
		DriverNetworkID: networkID,
	})
	if err != nil {
		return fmt.Errorf("start DeleteEnvironmentWorkflow: %w", err)
	}
	return nil
}

// MakePublic requires the environment be ACTIVE and not already public,
// validates the domain's shape and global uniqueness, then starts
// MakeEnvironmentPublicWorkflow to attach the proxy sidecar and patch
// running deployments.
func (s *EnvironmentService) MakePublic(ctx context.Context, userID, envID, domain, proxyContainer, letsEncryptEmail string) error {
	env, err := s.getOwned(ctx, userID, envID)
	if err != nil {
		return err
	}
	if env.Status != model.EnvironmentStatusActive {
		return fmt.Errorf("environment %s is not active: %w", envID, ErrConflict)
	}
	if env.IsPublic {
		return fmt.Errorf("environment %s is already public: %w", envID, ErrConflict)
	}
	if !domainPattern.MatchString(domain) {
		return fmt.Errorf("invalid domain %q: %w", domain, ErrInvalidInput)
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM environments WHERE public_domain = $1)`, domain,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check domain uniqueness: %w", err)
	}
	if exists {
		return fmt.Errorf("domain %q already in use: %w", domain, ErrConflict)
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("make-public-%s", env.ID),
		TaskQueue: taskQueue,
	}, "MakeEnvironmentPublicWorkflow", workflow.MakeEnvironmentPublicParams{
		EnvID:              env.ID,
		EnvName:            env.Name,
		OverlayName:        env.OverlayName,
		Domain:             domain,
		ProxyContainerName: proxyContainer,
		LetsEncryptEmail:   letsEncryptEmail,
	})
	if err != nil {
		return fmt.Errorf("start MakeEnvironmentPublicWorkflow: %w", err)
	}
	return nil
}

func (s *EnvironmentService) GetByID(ctx context.Context, userID, envID string) (*model.Environment, error) {
	return s.getOwned(ctx, userID, envID)
}

// ListByUser excludes DELETED rows; a deleted environment is gone from the
// user's perspective even though the row is retained for history.
func (s *EnvironmentService) ListByUser(ctx context.Context, userID string) ([]model.Environment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, name, overlay_name, driver_network_id, status, is_public, public_domain, error_message, created_at, updated_at
		 FROM environments WHERE user_id = $1 AND status != $2 ORDER BY created_at DESC`, userID, model.EnvironmentStatusDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list environments for user %s: %w", userID, err)
	}
	defer rows.Close()

	var envs []model.Environment
	for rows.Next() {
		var e model.Environment
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.OverlayName, &e.DriverNetworkID, &e.Status,
			&e.IsPublic, &e.PublicDomain, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		envs = append(envs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return envs, nil
}

func (s *EnvironmentService) getOwned(ctx context.Context, userID, envID string) (*model.Environment, error) {
	var e model.Environment
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, overlay_name, driver_network_id, status, is_public, public_domain, error_message, created_at, updated_at
		 FROM environments WHERE id = $1`, envID,
	).Scan(&e.ID, &e.UserID, &e.Name, &e.OverlayName, &e.DriverNetworkID, &e.Status,
		&e.IsPublic, &e.PublicDomain, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", envID, err)
	}
	if e.UserID != userID {
		return nil, fmt.Errorf("environment %s: %w", envID, ErrNotFound)
	}
	return &e, nil
}
