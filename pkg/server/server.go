// Package server wires configuration, providers, the health cache, the
// orchestrator and the HTTP API into a ready-to-serve SkinSight server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/skinsight/skinsight/internal/api"
	"github.com/skinsight/skinsight/internal/api/handlers"
	"github.com/skinsight/skinsight/internal/config"
	"github.com/skinsight/skinsight/internal/health"
	"github.com/skinsight/skinsight/internal/orchestrator"
	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/internal/retention"
	"github.com/skinsight/skinsight/internal/router"
	"github.com/skinsight/skinsight/internal/store"
	"github.com/skinsight/skinsight/internal/telemetry"
	"github.com/skinsight/skinsight/internal/validator"
)

// Core is the request-processing graph shared by the HTTP server and the CLI.
type Core struct {
	Router       *router.Router
	Health       *health.Cache
	Validator    *validator.Validator
	Orchestrator *orchestrator.Orchestrator
}

// NewCore builds adapters for every configured provider, registers the
// health-gated ones with the health cache and composes the orchestrator.
// A nil client selects provider.DefaultHTTPClient.
func NewCore(cfg *config.Config, client *http.Client, opts ...health.Option) (*Core, error) {
	if client == nil {
		client = provider.DefaultHTTPClient()
	}

	hc := health.NewCache(cfg.Health.StaleAfter, cfg.Health.ProbeTimeout, opts...)
	targets := make([]router.Target, 0, len(cfg.Providers))
	for _, desc := range cfg.Providers {
		adapter, err := provider.New(desc, client)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", desc.Name, err)
		}
		if desc.RequiresHealth {
			hc.Register(desc.Name, adapter)
		}
		targets = append(targets, router.Target{Adapter: adapter, Descriptor: desc})
		log.Debug().
			Str("provider", desc.Name).
			Str("kind", string(desc.Kind)).
			Bool("has_credential", desc.HasCredential()).
			Msg("Provider configured")
	}

	rt := router.New(targets, hc)
	v := validator.New(cfg.ConfidenceThreshold, cfg.ClassLabels)
	return &Core{
		Router:       rt,
		Health:       hc,
		Validator:    v,
		Orchestrator: orchestrator.New(rt, v, cfg.MaxImageBytes),
	}, nil
}

// Server holds the initialized SkinSight service.
type Server struct {
	*Core

	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Handlers is exposed so shutdown can flush background writes.
	Handlers *handlers.Handlers

	// Store is the result recorder; nil when recording is disabled.
	Store store.Store

	// Config is the server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error

	stopJanitor context.CancelFunc
}

// New loads configuration from the environment and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the server with an explicit configuration.
// Initial health probes are started in the background and do not block.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	core, err := NewCore(cfg, nil)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}
	log.Info().Int("providers", len(cfg.Providers)).Msg("✅ Provider chain initialized")

	dataStore, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	stopJanitor := func() {}
	if dataStore != nil {
		log.Info().Str("driver", cfg.Store.Driver).Msg("✅ Result store initialized")
		if cfg.Store.Retention > 0 {
			var janitorCtx context.Context
			janitorCtx, stopJanitor = context.WithCancel(context.Background())
			go retention.NewJanitor(dataStore, cfg.Store.Retention, cfg.Store.PurgeInterval).Start(janitorCtx)
		}
	} else {
		log.Info().Msg("🔕 Result recording disabled")
	}

	core.Health.Warm(ctx)
	log.Info().Msg("✅ Health probes started")

	h := handlers.New(cfg, core.Orchestrator, core.Router, core.Health, core.Validator, dataStore)
	return &Server{
		Core:         core,
		Handler:      api.NewRouter(cfg, h),
		Handlers:     h,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		stopJanitor:  stopJanitor,
	}, nil
}

// Close stops the retention janitor, flushes pending record writes, closes
// the store and shuts down telemetry.
func (s *Server) Close(ctx context.Context) error {
	if s.stopJanitor != nil {
		s.stopJanitor()
	}
	s.Handlers.Flush()
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.ShutdownFunc != nil {
		errs = append(errs, s.ShutdownFunc(ctx))
	}
	return errors.Join(errs...)
}
