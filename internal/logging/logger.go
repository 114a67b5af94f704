package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/hosting/internal/config"
)

// NewLogger creates a structured zerolog.Logger leveled from cfg.LogLevel.
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.NodeID != "" {
		ctx = ctx.Str("node_id", cfg.NodeID)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}

// WithRole returns a child logger tagged with the process role
// ("core-api" or "worker"), mirroring how the worker tags its Temporal
// worker identity.
func WithRole(logger zerolog.Logger, role string) zerolog.Logger {
	return logger.With().Str("role", role).Logger()
}
