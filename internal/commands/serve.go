package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/samsyeung/mycontrol/internal/api"
	"github.com/samsyeung/mycontrol/internal/dashboards"
	"github.com/samsyeung/mycontrol/internal/history"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/internal/terminal"
)

const metricsInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  "Serve the JSON API, the terminal viewer and /metrics until SIGINT or SIGTERM.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting mycontrol server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}

	var (
		apiHistory api.History
		recorder   terminal.Recorder = history.Nop{}
	)
	if cfg.History.DatabasePath != "" {
		store, err := history.New(cfg.History.DatabasePath, history.WithDebug(cfg.History.Debug))
		if err != nil {
			return err
		}
		defer store.Close()

		apiHistory = store
		recorder = store

		log.Info().Str("database", cfg.History.DatabasePath).Msg("Action history enabled")
	} else {
		log.Info().Msg("Action history disabled")
	}

	tokens, err := terminal.NewTokenIssuer(cfg.Auth.JWTSecretKey, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	broker := terminal.NewBroker(svc.registry, svc.opener, tokens, terminal.Options{
		ExternalURL:      cfg.Server.ExternalURL,
		IdleTimeout:      cfg.Terminal.IdleTimeout,
		SweepInterval:    cfg.Terminal.SweepInterval,
		ReplayBufferSize: cfg.Terminal.ReplayBufferSize,
		CloseOnDetach:    cfg.Terminal.CloseOnDetach,
		StartTimeout:     cfg.SSH.ConnectTimeout + cfg.SSH.CommandTimeout,
		History:          recorder,
	})
	defer broker.Stop()

	var limiter *api.HostLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = api.NewHostLimiter(cfg.Server.RateLimit.RequestsPerMinute, cfg.Server.RateLimit.Burst)
	}

	handler := api.NewRouter(api.Dependencies{
		Registry:   svc.registry,
		Probe:      svc.probe,
		Power:      svc.power,
		Inventory:  svc.inventory,
		Containers: svc.containers,
		Terminals:  broker,
		History:    apiHistory,
		Dashboards: dashboards.NewProvider(cfg.GrafanaDashboards, cfg.Dashboards.Window),
		Limiter:    limiter,
	})

	collector := metrics.NewCollector(broker, metricsInterval)
	go collector.Start(ctx)
	defer collector.Stop()

	server := &http.Server{
		Addr:              cfg.GetListenAddress(),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("address", cfg.GetListenAddress()).
		Int("hosts", svc.registry.Count()).
		Str("ipmi_driver", cfg.IPMI.Driver).
		Str("probe_method", cfg.Probe.Method).
		Bool("rate_limiting", cfg.Server.RateLimit.Enabled).
		Msg("Starting HTTP server")
	log.Info().Msgf("Health check: http://%s/health", cfg.GetListenAddress())

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}

	// Terminal sessions hold hijacked connections that Shutdown does not wait for
	broker.Stop()

	log.Info().Msg("Server stopped")
	return nil
}
