package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"pressroom/api/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load every collection and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.service.Bootstrap(ctx); err != nil {
		st.logger.Warn("bootstrap incomplete, failed collections load on next refresh", "err", err)
	}

	metricsHandler := promhttp.HandlerFor(st.registry, promhttp.HandlerOpts{})
	httpServer := app.NewHTTPServer(st.service, st.cfg.CORSOrigin, metricsHandler, st.logger)
	server := &http.Server{
		Addr:              st.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// refresh?wait=1 can outlast a full sync
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		st.logger.Info("pressroom API listening", "addr", st.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		st.logger.Error("shutdown error", "err", err)
		return err
	}
	st.logger.Info("stopped")
	return nil
}
