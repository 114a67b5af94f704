package core

import (
	"context"
	"fmt"

	"github.com/edvin/hosting/internal/model"
	"github.com/edvin/hosting/internal/platform"
)

// UserService manages the user accounts the chat-bot front end resolves
// credentials against. Users are created lazily on first contact; there is
// no registration flow in scope here.
type UserService struct {
	db DB
}

func NewUserService(db DB) *UserService {
	return &UserService{db: db}
}

// GetOrCreateByChatID looks up a user by their external chat identity,
// creating one with default notification preferences on first sight.
func (s *UserService) GetOrCreateByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, chat_id, handle, notify_deployment_events, notify_environment_events, created_at
		 FROM users WHERE chat_id = $1`, chatID,
	).Scan(&u.ID, &u.ChatID, &u.Handle, &u.NotifyDeploymentEvents, &u.NotifyEnvironmentEvents, &u.CreatedAt)
	if err == nil {
		return &u, nil
	}

	u = model.User{
		ID:                      platform.NewID(),
		ChatID:                  chatID,
		NotifyDeploymentEvents:  true,
		NotifyEnvironmentEvents: true,
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (id, chat_id, notify_deployment_events, notify_environment_events, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (chat_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
		 RETURNING id, created_at`,
		u.ID, u.ChatID, u.NotifyDeploymentEvents, u.NotifyEnvironmentEvents,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user for chat %d: %w", chatID, err)
	}
	return &u, nil
}

// GetByID retrieves a user by their internal ID.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, chat_id, handle, notify_deployment_events, notify_environment_events, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.ChatID, &u.Handle, &u.NotifyDeploymentEvents, &u.NotifyEnvironmentEvents, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

// UpdateNotificationPrefs sets which event categories a user is notified about.
func (s *UserService) UpdateNotificationPrefs(ctx context.Context, id string, deployments, environments bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET notify_deployment_events = $1, notify_environment_events = $2 WHERE id = $3`,
		deployments, environments, id,
	)
	if err != nil {
		return fmt.Errorf("update notification prefs for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}
