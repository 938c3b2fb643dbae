package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Str("version", cfg.Server.Version).Msg("taskrouter starting")
			srv, err := server.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize server: %w", err)
			}

			httpServer := &http.Server{
				Addr:         fmt.Sprintf(":%d", srv.Port),
				Handler:      srv.Handler,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Int("port", srv.Port).Msg("Listening")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("listen: %w", err)
				}
			case <-ctx.Done():
				log.Info().Msg("Shutting down gracefully...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("HTTP shutdown")
			}
			return srv.ShutdownFunc(shutdownCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
