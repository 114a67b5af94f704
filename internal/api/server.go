package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/hosting/internal/api/handler"
	mw "github.com/edvin/hosting/internal/api/middleware"
	"github.com/edvin/hosting/internal/buildlog"
	"github.com/edvin/hosting/internal/config"
	"github.com/edvin/hosting/internal/core"
	"github.com/edvin/hosting/internal/driver"
	"github.com/edvin/hosting/internal/model"
)

//go:embed docs/swagger.json
var swaggerJSON []byte

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	db             *pgxpool.Pool
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, temporalClient temporalclient.Client, d driver.Driver, archiver *buildlog.Archiver, cfg *config.Config) *Server {
	services := core.NewServices(pool, temporalClient, d, archiver)

	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		db:             pool,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	health := handler.NewHealth(s.db)
	s.router.Get("/health", health.Check)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Get("/docs/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(swaggerJSON)
	})
	s.router.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(scalarHTML))
	})

	authHandler := handler.NewAuth(s.services.Credential)
	s.router.Get("/auth/verify", authHandler.Verify)

	rateLimit := mw.NewRateLimiter()
	authn := mw.Auth(s.services.Credential)

	s.router.Route("/auth", func(r chi.Router) {
		r.Use(authn, rateLimit.Limit("other", 100))
		r.Get("/keys", authHandler.ListKeys)
		r.Post("/revoke", authHandler.Revoke)
	})

	envHandler := handler.NewEnvironment(s.services.Environment, s.services.Deployment, s.cfg.NginxContainerName, s.cfg.LetsEncryptEmail)
	s.router.Route("/environments", func(r chi.Router) {
		r.Use(authn, rateLimit.Limit("other", 100))
		r.With(mw.RequireScopes(model.ScopeEnvWrite)).Post("/", envHandler.Create)
		r.With(mw.RequireScopes(model.ScopeEnvRead)).Get("/", envHandler.List)
		r.With(mw.RequireScopes(model.ScopeEnvRead)).Get("/{id}", envHandler.Get)
		r.With(mw.RequireScopes(model.ScopeEnvWrite)).Delete("/{id}", envHandler.Delete)
		r.With(mw.RequireScopes(model.ScopeEnvWrite)).Post("/{id}/public", envHandler.MakePublic)
	})

	deployHandler := handler.NewDeployment(s.services.Deployment)
	s.router.Route("/deployments", func(r chi.Router) {
		r.Use(authn)
		r.With(mw.RequireScopes(model.ScopeDeployWrite), rateLimit.Limit("registry-deploy", 5)).Post("/", deployHandler.Create)
		r.With(mw.RequireScopes(model.ScopeDeployWrite), rateLimit.Limit("git-deploy", 3)).Post("/from-git", deployHandler.CreateFromGit)
		r.With(mw.RequireScopes(model.ScopeDeployRead), rateLimit.Limit("other", 100)).Get("/job/{jobId}", deployHandler.GetStatus)
		r.With(mw.RequireScopes(model.ScopeDeployRead), rateLimit.Limit("other", 100)).Get("/environment/{envId}", deployHandler.ListByEnvironment)
		r.With(mw.RequireScopes(model.ScopeLogsRead), rateLimit.Limit("other", 100)).Get("/{id}/logs", deployHandler.Logs)
		r.With(mw.RequireScopes(model.ScopeLogsRead), rateLimit.Limit("other", 100)).Get("/{id}/logs/stream", deployHandler.StreamLogs)
		r.With(mw.RequireScopes(model.ScopeDeployWrite), rateLimit.Limit("other", 100)).Delete("/{id}", deployHandler.Delete)
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

const scalarHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Hosting Platform API</title>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
</head>
<body>
  <script id="api-reference" data-url="/docs/openapi.json"></script>
  <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`
