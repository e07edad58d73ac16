package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/callbridge/internal/adapters/http"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if n, err := c.recoverAll(ctx); err != nil {
		log.Warn().Err(err).Str("module", "main").Msg("session recovery scan failed")
	} else if n > 0 {
		log.Info().Str("module", "main").Int("sessions", n).Msg("sessions recovered from cache")
	}

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := c.supervisor.Start(ctx); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("supervisor")
		}
	}()

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Store:    c.store,
		Relay:    c.relay,
		Bridge:   c.bridge,
		Verifier: c.verifier,
		Signal:   c.signal,
		Health:   c.health,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("version", Version).Msg("callbridge server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cancel()
		<-supervisorDone
		return fmt.Errorf("server: %w", err)
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-supervisorDone
	log.Info().Msg("Server exited gracefully")
	return nil
}
