package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alexandr23/shared-canvas/config"
	"github.com/Alexandr23/shared-canvas/discovery"
	"github.com/Alexandr23/shared-canvas/hub"
	"github.com/Alexandr23/shared-canvas/protocol"
	"github.com/Alexandr23/shared-canvas/server"
	"github.com/Alexandr23/shared-canvas/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	broadcaster := hub.New()
	handler := protocol.NewHandler(broadcaster, store)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewRouter(broadcaster, handler, cfg.StaticDir),
	}

	if cfg.MDNS {
		port, err := cfg.PortNumber()
		if err != nil {
			return fmt.Errorf("invalid PORT for mDNS: %w", err)
		}
		advertiser, err := discovery.Advertise(port)
		if err != nil {
			slog.Warn("mDNS advertisement disabled", "error", err)
		} else {
			defer advertiser.Shutdown()
			slog.Info("advertising over mDNS", "service", discovery.ServiceType, "port", port)
		}
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
