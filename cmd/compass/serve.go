package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/PabloGalante/compass-agent/internal/adapters/http"
	"github.com/PabloGalante/compass-agent/internal/config"
	"github.com/PabloGalante/compass-agent/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           httpadapter.NewServer(a.conv, a.journal, a.catalog),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(ctx, srv)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides COMPASS_PORT)")
	return cmd
}

// serve runs srv until ctx is done, then drains in-flight requests. Turns
// and reports run detached from the request, so draining waits for them.
func serve(ctx context.Context, srv *http.Server) error {
	log := observability.Logger()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Compass API listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
