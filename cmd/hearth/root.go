package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthapp/hearth/internal/api"
	"github.com/hearthapp/hearth/internal/config"
	"github.com/hearthapp/hearth/internal/ledger"
	"github.com/hearthapp/hearth/internal/localstore"
	"github.com/hearthapp/hearth/internal/remote"
	"github.com/hearthapp/hearth/pkg/offline"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth - offline-first task and points sync service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Shutdown is signal-driven; everything below hangs off this context.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Configuration: defaults, YAML, env.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Structured logging per config.
	slog.SetDefault(newLogger(cfg.Log))
	slog.Info("configuration loaded", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Durable local storage for the offline queue.
	storage, err := localstore.NewSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("local storage ready", "path", cfg.Database.Path)

	// 5. Remote document-store client.
	remoteStore := remote.NewClientWithTimeout(
		cfg.Remote.BaseURL, cfg.Remote.APIKey, time.Duration(cfg.Remote.Timeout))
	slog.Info("remote store configured", "base_url", cfg.Remote.BaseURL)

	// 6. Sync client: queue, reconciler, connectivity monitor.
	client, err := offline.New(offline.Config{
		Storage:       storage,
		Remote:        remoteStore,
		ProbeInterval: time.Duration(cfg.Sync.ProbeInterval),
		MaxRetries:    cfg.Sync.MaxRetries,
		StorageKey:    cfg.Sync.StorageKey,
	})
	if err != nil {
		return err
	}
	slog.Info("sync client ready",
		"pending", len(client.PendingActions()),
		"max_retries", cfg.Sync.MaxRetries,
	)

	// 7. Points ledger over the same remote store.
	ledgerSvc := ledger.NewService(remoteStore)

	// 8. HTTP surface.
	handler := api.NewHandler(client, ledgerSvc, cfg.Auth.APIKey, Version)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Background workers.
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity", client.Run)

	// 10. Serve. Any listen failure other than a graceful close tears the
	// whole process down through the shared context.
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful teardown: drain HTTP, stop workers, flush the queue,
	// close storage. Order matters; the final replay needs the remote client
	// and the storage still open.
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()
	if err := client.Shutdown(shutdownCtx); err != nil {
		slog.Error("sync client shutdown error", "error", err)
	}
	if err := storage.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger from config. Unknown levels fall back
// to info, unknown formats to JSON.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// startWorker runs fn on a tracked goroutine that exits with the context.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
