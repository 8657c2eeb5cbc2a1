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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"upload-drop/internal/config"
	"upload-drop/internal/db"
	"upload-drop/internal/logging"
	"upload-drop/internal/server"
)

// shutdownTimeout bounds the drain of in-flight requests and pending
// mirror uploads after a stop signal.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("backend exited", "err", err)
		os.Exit(1)
	}
}

// run loads configuration and wires every collaborator before any listener
// opens, so a bad setting never leaves a half-started process behind.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Color:    cfg.Log.Color,
		Location: cfg.Location,
	})
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srvCfg := server.Config{
		Addr:           cfg.Addr(),
		Secret:         cfg.Secret,
		UploadDir:      cfg.UploadDir,
		TempDir:        cfg.TempDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
		Metrics:        server.NewMetrics(reg),
	}

	if cfg.Audit.DatabaseURL != "" {
		dbConn, err := db.OpenDB(cfg.Audit.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect audit database: %w", err)
		}
		defer func() { _ = dbConn.Close() }()

		logger.Info("running migrations")
		if err := db.RunMigrations(dbConn); err != nil {
			return err
		}
		srvCfg.Auditor = server.NewPostgresAuditor(dbConn)
	}

	if cfg.Mirror.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mirror, err := server.NewMinioMirror(ctx, server.MirrorOptions{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Bucket:    cfg.Mirror.Bucket,
			Prefix:    cfg.Mirror.Prefix,
		}, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connect mirror: %w", err)
		}
		srvCfg.Mirror = mirror
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go srv.RunScratchSweeper(sweepCtx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting", "addr", srvCfg.Addr, "root", srv.Root())
		errCh <- srv.Start()
	}()

	var admin *http.Server
	if cfg.Metrics.Addr != "" {
		admin = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           srv.AdminHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin listener starting", "addr", admin.Addr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if admin != nil {
			_ = admin.Shutdown(ctx)
		}
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
