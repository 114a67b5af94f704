package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/buildlog"
	"github.com/edvin/hosting/internal/config"
	"github.com/edvin/hosting/internal/db"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/events"
	"github.com/edvin/hosting/internal/logging"
	"github.com/edvin/hosting/internal/metrics"
	"github.com/edvin/hosting/internal/workflow"
)

const taskQueue = "hosting-tasks"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewCorePool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	dockerDriver, err := driver.NewDockerDriver(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure docker driver")
	}

	bus, err := events.NewBus(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer bus.Close()

	archiver := buildlog.NewArchiver(cfg)
	if archiver == nil {
		logger.Warn().Msg("build log archival disabled, BUILD_LOG_BUCKET not set")
	}

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, taskQueue, worker.Options{})

	store := activity.NewStore(pool)

	// Register activities
	w.RegisterActivity(activity.NewDriverActivities(dockerDriver))
	w.RegisterActivity(store)
	w.RegisterActivity(activity.NewBuildActivities(dockerDriver, archiver))
	w.RegisterActivity(activity.NewNotifyActivities(store, bus))

	// Register workflows
	w.RegisterWorkflow(workflow.CreateEnvironmentWorkflow)
	w.RegisterWorkflow(workflow.DeleteEnvironmentWorkflow)
	w.RegisterWorkflow(workflow.MakeEnvironmentPublicWorkflow)
	w.RegisterWorkflow(workflow.DeployFromRegistryWorkflow)
	w.RegisterWorkflow(workflow.DeployFromGitWorkflow)
	w.RegisterWorkflow(workflow.StopDeploymentWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}
