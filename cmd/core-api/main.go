package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/hosting/internal/activity"
	"github.com/edvin/hosting/internal/api"
	"github.com/edvin/hosting/internal/buildlog"
	"github.com/edvin/hosting/internal/config"
	"github.com/edvin/hosting/internal/core"
	"github.com/edvin/hosting/internal/db"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/events"
	"github.com/edvin/hosting/internal/logging"
	"github.com/edvin/hosting/internal/notifier"
	"github.com/edvin/hosting/internal/recovery"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "issue-magic-link" {
		issueMagicLink(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations/core", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("core-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

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

	srv := api.NewServer(logger, pool, tc, dockerDriver, archiver, cfg)

	users := core.NewUserService(pool)
	notify := notifier.New(bus, users, cfg.NotificationWebhookURL, logger)
	go func() {
		if err := notify.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("notifier stopped")
		}
	}()

	if cfg.EnableDeploymentRecovery {
		store := activity.NewStore(pool)
		supervisor := recovery.New(store, dockerDriver, bus, logger)
		if err := supervisor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("recovery supervisor stopped")
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting core API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// issueMagicLink is the operator escape hatch for bootstrapping the first
// API key for a user: the normal path is Telegram sending a login link, but
// an operator needs a way to mint one directly against a chat ID.
func issueMagicLink(args []string) {
	fs := flag.NewFlagSet("issue-magic-link", flag.ExitOnError)
	chatID := fs.Int64("chat-id", 0, "Telegram chat ID to issue the link for (required)")
	scopes := fs.String("scopes", "env.read,env.write,deploy.read,deploy.write,logs.read", "Comma-separated scopes")
	ttl := fs.Duration("ttl", 15*time.Minute, "Token time-to-live")
	baseURL := fs.String("base-url", "", "Base URL to print the full verify link against")
	fs.Parse(args)

	if *chatID == 0 {
		fmt.Fprintln(os.Stderr, "error: --chat-id is required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewCorePool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	users := core.NewUserService(pool)
	user, err := users.GetOrCreateByChatID(ctx, *chatID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to resolve user: %v\n", err)
		os.Exit(1)
	}

	credentials := core.NewCredentialService(pool)
	token, link, err := credentials.IssueMagicLink(ctx, user.ID, strings.Split(*scopes, ","), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to issue magic link: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Magic link issued for user %s.\n\n", user.ID)
	fmt.Printf("  Token:      %s\n", token)
	fmt.Printf("  Expires at: %s\n", link.ExpiresAt.Format(time.RFC3339))
	if *baseURL != "" {
		fmt.Printf("  Verify URL: %s/auth/verify?token=%s\n", strings.TrimRight(*baseURL, "/"), token)
	}
	fmt.Println("\nRedeeming it mints an API key; the token itself is single-use.")
}

