package model

import "time"

// User is a chat-identified principal. Created on first /start; never
// deleted in normal operation.
type User struct {
	ID                     string    `json:"user_id"`
	ChatID                 int64     `json:"chat_id"`
	Handle                 *string   `json:"handle,omitempty"`
	NotifyDeploymentEvents bool      `json:"notify_deployment_events"`
	NotifyEnvironmentEvents bool     `json:"notify_environment_events"`
	CreatedAt              time.Time `json:"created_at"`
}
