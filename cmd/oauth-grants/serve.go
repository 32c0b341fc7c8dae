package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/oauth-grants"
	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/backend"
	"github.com/giantswarm/oauth-grants/internal/config"
	"github.com/giantswarm/oauth-grants/server"
)

const readHeaderTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the authorization and token endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, cfg.Logger.NewLogger())
		},
	}
}

// app is a fully wired server
type app struct {
	handler http.Handler
	backend *backend.Backend
	oauth   *oauth.Server
	inst    *instrumentation.Instrumentation
}

// newApp wires storage, the grant engine, instrumentation and the HTTP adapter.
// registry receives the metrics collector when metrics are enabled.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry prometheus.Registerer) (*app, error) {
	b, err := backend.Open(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	a := &app{backend: b}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	if err := b.SeedClients(ctx, cfg.Clients); err != nil {
		return nil, err
	}

	grants, err := server.NewWithStore(b, cfg.Grants.ServerConfig(), logger)
	if err != nil {
		return nil, err
	}

	principal := func(*http.Request) string { return "" }
	if cfg.HTTP.PrincipalHeader != "" {
		principal = oauth.PrincipalFromHeader(cfg.HTTP.PrincipalHeader)
	}

	a.oauth, err = oauth.NewServer(grants, &oauth.Config{
		Issuer:                cfg.HTTP.Issuer,
		AllowTokenQueryParams: cfg.HTTP.AllowTokenQueryParams,
		RateLimit: oauth.RateLimitConfig{
			Rate:  cfg.HTTP.RateLimit.Rate,
			Burst: cfg.HTTP.RateLimit.Burst,
		},
		TrustProxy:         cfg.HTTP.TrustProxy,
		TrustedProxyCount:  cfg.HTTP.TrustedProxyCount,
		PrincipalFunc:      principal,
		EnableAuditLogging: cfg.HTTP.AuditLog,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	if cfg.Metrics.Enabled {
		a.inst, err = instrumentation.New(instrumentation.Config{
			ServiceVersion:       version,
			Enabled:              true,
			MetricsExporter:      instrumentation.MetricsExporterPrometheus,
			PrometheusRegisterer: registry,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize instrumentation: %w", err)
		}
		a.oauth.SetInstrumentation(a.inst)
		b.SetInstrumentation(a.inst)

		gatherer, isGatherer := registry.(prometheus.Gatherer)
		if !isGatherer {
			gatherer = prometheus.DefaultGatherer
		}
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	oauth.NewHandler(a.oauth, logger).RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a.handler = mux

	ok = true
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.oauth != nil {
		a.oauth.Close()
	}
	if a.inst != nil {
		_ = a.inst.Shutdown(ctx)
	}
	_ = a.backend.Close()
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go a.backend.RunCleanup(cleanupCtx)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting oauth-grants",
			"version", version,
			"addr", cfg.HTTP.Addr,
			"storage", a.backend.Type,
			"clients", len(cfg.Clients))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.close(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	a.close(shutdownCtx)
	return err
}
