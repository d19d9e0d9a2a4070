package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quotamux/quotamux/cmd/quotamux/di"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quotamux admin server",
	Long: `Start the admin HTTP server that reports scheduler RPM status, per-key
usage history, and lets an operator reset failure counters across both
credential pools.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	configPath := resolveConfigPath()

	container, err := di.NewContainer(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("failed to initialize services")
		return err
	}

	cfgSvc := di.MustInvoke[*di.ConfigService](container)

	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to create server")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfgSvc.StartWatching(ctx)

	return runWithGracefulShutdown(serverSvc, container, cfgSvc.Config.Server.Listen)
}

// runWithGracefulShutdown handles signal-based graceful shutdown: the
// admin server stops accepting new connections first, then every
// other DI-managed service (cache, config watcher) shuts down.
func runWithGracefulShutdown(serverSvc *di.ServerService, container *di.Container, listenAddr string) error {
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := serverSvc.Shutdown(); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}

		if err := container.ShutdownWithContext(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown error")
		}

		close(done)
	}()

	log.Info().Str("listen", listenAddr).Msg("starting quotamux")

	if err := serverSvc.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		return err
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}
