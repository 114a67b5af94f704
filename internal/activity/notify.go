package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edvin/hosting/internal/events"
)

// NotifyActivities publishes workflow-observed events onto the bus.
// Workflow code cannot call the bus directly since that would break replay
// determinism, so every publish goes through this activity.
type NotifyActivities struct {
	store *Store
	bus   *events.Bus
}

func NewNotifyActivities(store *Store, bus *events.Bus) *NotifyActivities {
	return &NotifyActivities{store: store, bus: bus}
}

// PublishEventParams identifies the owning environment or deployment so the
// activity can resolve the user to publish under. Exactly one of EnvID or
// DeploymentID is set.
type PublishEventParams struct {
	Type         string          `json:"type"`
	EnvID        string          `json:"env_id,omitempty"`
	DeploymentID string          `json:"deployment_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func (a *NotifyActivities) PublishEvent(ctx context.Context, params PublishEventParams) error {
	userID, err := a.resolveUserID(ctx, params)
	if err != nil {
		return fmt.Errorf("resolve user for event %s: %w", params.Type, err)
	}

	payload := params.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	if err := events.Publish(ctx, a.bus, params.Type, userID, payload); err != nil {
		return fmt.Errorf("publish event %s: %w", params.Type, err)
	}
	return nil
}

func (a *NotifyActivities) resolveUserID(ctx context.Context, params PublishEventParams) (string, error) {
	if params.EnvID != "" {
		env, err := a.store.GetEnvironment(ctx, params.EnvID)
		if err != nil {
			return "", err
		}
		return env.UserID, nil
	}
	if params.DeploymentID != "" {
		deployment, err := a.store.GetDeployment(ctx, params.DeploymentID)
		if err != nil {
			return "", err
		}
		env, err := a.store.GetEnvironment(ctx, deployment.EnvID)
		if err != nil {
			return "", err
		}
		return env.UserID, nil
	}
	return "", fmt.Errorf("publish event %s: no env_id or deployment_id given", params.Type)
}
