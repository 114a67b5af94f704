package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-derived setting for both process roles
// (core-api, worker). Fields unused by a role are simply left zero.
type Config struct {
	DatabaseURL string
	Port        string
	NodeEnv     string

	DockerSocketPath         string
	DockerSwarmAdvertiseAddr string
	DockerTLSCert            string
	DockerTLSKey             string
	DockerTLSCA              string

	NginxContainerName string
	LetsEncryptEmail   string
	LetsEncryptStaging bool

	ThrottleTTLSeconds int
	ThrottleLimit      int

	EnableDeploymentRecovery bool

	LogLevel string

	TemporalAddress       string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	HTTPListenAddr string
	MetricsAddr    string

	EventsRedisAddr string

	NotificationWebhookURL string

	BuildLogBucket          string
	BuildLogRegion          string
	BuildLogEndpoint        string
	BuildLogAccessKeyID     string
	BuildLogSecretAccessKey string

	NodeID string
}

// Load reads configuration from the environment, applying the same defaults
// the deployed containers rely on.
func Load() (*Config, error) {
	port := getEnv("PORT", "3000")
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        port,
		NodeEnv:     getEnv("NODE_ENV", "production"),

		DockerSocketPath:         getEnv("DOCKER_SOCKET_PATH", "/var/run/docker.sock"),
		DockerSwarmAdvertiseAddr: getEnv("DOCKER_SWARM_ADVERTISE_ADDR", ""),
		DockerTLSCert:            getEnv("DOCKER_TLS_CERT", ""),
		DockerTLSKey:             getEnv("DOCKER_TLS_KEY", ""),
		DockerTLSCA:              getEnv("DOCKER_TLS_CA", ""),

		NginxContainerName: getEnv("NGINX_CONTAINER_NAME", "nginx_proxy"),
		LetsEncryptEmail:   getEnv("LETSENCRYPT_EMAIL", ""),
		LetsEncryptStaging: getEnvBool("LETSENCRYPT_STAGING", false),

		ThrottleTTLSeconds: getEnvInt("THROTTLE_TTL", 60),
		ThrottleLimit:      getEnvInt("THROTTLE_LIMIT", 100),

		EnableDeploymentRecovery: getEnvBool("ENABLE_DEPLOYMENT_RECOVERY", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),

		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":"+port),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),

		EventsRedisAddr: getEnv("EVENTS_REDIS_ADDR", "localhost:6379"),

		NotificationWebhookURL: getEnv("NOTIFICATION_WEBHOOK_URL", ""),

		BuildLogBucket:          getEnv("BUILD_LOG_BUCKET", ""),
		BuildLogRegion:          getEnv("BUILD_LOG_REGION", "us-east-1"),
		BuildLogEndpoint:        getEnv("BUILD_LOG_ENDPOINT", ""),
		BuildLogAccessKeyID:     getEnv("BUILD_LOG_ACCESS_KEY_ID", ""),
		BuildLogSecretAccessKey: getEnv("BUILD_LOG_SECRET_ACCESS_KEY", ""),

		NodeID: getEnv("NODE_ID", ""),
	}

	return cfg, nil
}

// Validate checks that the fields required by role are present.
func (c *Config) Validate(role string) error {
	var missing []string

	require := func(name, val string) {
		if val == "" {
			missing = append(missing, name)
		}
	}

	switch role {
	case "core-api":
		require("DATABASE_URL", c.DatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
	case "worker":
		require("DATABASE_URL", c.DatabaseURL)
		require("TEMPORAL_ADDRESS", c.TemporalAddress)
		require("DOCKER_SOCKET_PATH", c.DockerSocketPath)
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		missing = append(missing, "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set or both be empty")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
