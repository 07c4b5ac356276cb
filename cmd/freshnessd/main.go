// Command freshnessd runs the freshness daemon: the version store, the
// bump API, and the WebSocket notification channel that admin-tool
// sessions subscribe to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/svelumani/MusicianManager-sub005/pkg/config"
	"github.com/svelumani/MusicianManager-sub005/pkg/hub"
	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
	"github.com/svelumani/MusicianManager-sub005/pkg/version"
)

func main() {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "freshnessd",
		Short: "Data freshness daemon for the booking admin tool",
		Long: `freshnessd tracks a monotonic version counter per entity group and
pushes change notifications to connected sessions over WebSocket.

Endpoints:
  GET  /api/versions            current version snapshot
  POST /api/entities/:key/bump  record a change to an entity group
  GET  /ws                      notification channel
  GET  /healthz                 liveness
  GET  /metrics                 prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	zl := zerolog.New(os.Stderr).With().Timestamp().Str("component", "freshnessd").Logger()
	log := logger.FromZerolog(zl)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", configPath, "error", err)
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	store := version.NewStore()
	reg := prometheus.NewRegistry()
	h := hub.New(store, log, hub.NewMetrics(reg))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           hub.Router(h, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error("server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	h.BroadcastSystemMessage("server is restarting")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
		return err
	}
	h.Close()

	log.Info("stopped")
	return nil
}
