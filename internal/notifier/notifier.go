package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/hosting/internal/core"
	"github.com/edvin/hosting/internal/events"
)

// Notifier subscribes to the event bus and fans each event out to the
// out-of-band chat sink, filtered by the owning user's notification
// preferences. Delivery failures are logged and never propagate back to
// the emitter.
type Notifier struct {
	bus        *events.Bus
	users      *core.UserService
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

func New(bus *events.Bus, users *core.UserService, webhookURL string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		bus:        bus,
		users:      users,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "notifier").Logger(),
	}
}

// deploymentEventTypes and environmentEventTypes classify a raw event type
// into the preference bucket that gates its delivery.
var deploymentEventTypes = map[string]bool{
	"deployment.started":         true,
	"deployment.success":         true,
	"deployment.failed":          true,
	"deployment.stopped":         true,
	"deployment.recovered":       true,
	"deployment.recovery-failed": true,
}

var environmentEventTypes = map[string]bool{
	"environment.active":      true,
	"environment.error":       true,
	"environment.deleted":     true,
	"environment.made_public": true,
}

// Run subscribes to the bus and returns once the subscription is set up;
// events are delivered on a background goroutine until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	return n.bus.Subscribe(ctx, func(evt events.Event) {
		if err := n.deliver(ctx, evt); err != nil {
			n.logger.Warn().Err(err).Str("type", evt.Type).Str("user_id", evt.UserID).Msg("notifier delivery failed")
		}
	})
}

func (n *Notifier) deliver(ctx context.Context, evt events.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	user, err := n.users.GetByID(ctx, evt.UserID)
	if err != nil {
		return fmt.Errorf("resolve user %s: %w", evt.UserID, err)
	}

	if deploymentEventTypes[evt.Type] && !user.NotifyDeploymentEvents {
		return nil
	}
	if environmentEventTypes[evt.Type] && !user.NotifyEnvironmentEvents {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"chat_id": user.ChatID,
		"event":   evt.Type,
		"payload": evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
