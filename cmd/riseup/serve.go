package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/PabloGalante/riseup-agent/internal/adapters/http"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	transport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	hubs := httpadapter.NewHubs()
	svc := buildService(cfg, transport, store, hubs.Surface)
	defer svc.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpadapter.NewServer(svc, hubs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Rise Up API listening", "port", cfg.Port, "mode", cfg.Mode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
