package model

import "time"

// Environment is a tenant-private overlay network and the deployments
// attached to it.
type Environment struct {
	ID              string    `json:"env_id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	OverlayName     string    `json:"overlay_name"`
	DriverNetworkID *string   `json:"driver_network_id,omitempty"`
	Status          string    `json:"status"`
	IsPublic        bool      `json:"is_public"`
	PublicDomain    *string   `json:"public_domain,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
