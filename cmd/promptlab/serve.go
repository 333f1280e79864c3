package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/cmd/promptlab/internal/httpapi"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Serve the HTTP and WebSocket API",
		Long:        "Serve generation, optimization, comparison, task and session endpoints over HTTP, a batch WebSocket at /ws and Prometheus metrics at /metrics.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationFullLogs: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.app.settings.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return c.serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults HTTP_ADDR or :8080)")

	return cmd
}

// serve runs the API on ln until ctx is done, then shuts down gracefully.
func (c *cli) serve(ctx context.Context, ln net.Listener) error {
	log := c.app.log
	srv := &http.Server{
		Handler:           httpapi.NewMux(c.app.httpDeps()),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", ln.Addr().String()).
			Str("default_target", c.app.client.DefaultTarget().String()).
			Msg("promptlab listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
		return err
	}
	return nil
}
