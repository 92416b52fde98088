package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"app-catalog-drop/internal/config"
	"app-catalog-drop/internal/db"
	"app-catalog-drop/internal/logging"
	"app-catalog-drop/internal/server"
	"app-catalog-drop/internal/updater"
	"app-catalog-drop/internal/watcher"
)

func main() {
	os.Exit(run())
}

// run wires the backend and blocks until a signal, a server error, or a
// change to the watched binary. It returns the process exit code.
func run() int {
	cfg := config.Load()

	logger, err := logging.New(logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogFormat == "json" || cfg.Env == "production",
	})
	if err == nil {
		logging.SetDefault(logger)
		defer func() { _ = logger.Sync() }()
	}

	if err := config.Validate(cfg); err != nil {
		logging.Error("invalid_configuration", nil, err)
		return 1
	}
	for _, w := range config.Warnings(cfg) {
		logging.Warn("configuration_warning", map[string]any{"warning": w})
	}

	deps, cleanup, err := openDependencies(cfg)
	if err != nil {
		logging.Error("dependency_setup_failed", nil, err)
		return 1
	}
	defer cleanup()

	srv := server.New(serverConfig(cfg, deps))

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go server.StartAuditRetention(bgCtx, deps.pruner, server.RetentionConfig{
		MaxAge:   cfg.AuditRetention,
		Interval: cfg.AuditPruneEvery,
	})

	// Start the HTTP server in a background goroutine.
	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting", map[string]any{
			"addr":     cfg.Addr,
			"data_dir": cfg.DataDir,
			"web_root": cfg.WebRoot,
			"allowed":  cfg.AllowedFiles,
			"version":  cfg.Build.Version,
			"commit":   cfg.Build.Commit,
		})
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	changed := make(chan struct{})
	if cfg.Watch.Enabled {
		w, err := watcher.New(cfg.Watch.Path, cfg.Watch.Interval)
		if err != nil {
			logging.Error("watcher_setup_failed", nil, err)
			return 1
		}
		logging.Info("watching_binary", map[string]any{"path": w.Path(), "interval": cfg.Watch.Interval.String()})
		go func() {
			_ = w.Run(bgCtx, func() { close(changed) })
		}()
	}

	restart := false
	select {
	case sig := <-sigCh:
		logging.Info("shutting_down", map[string]any{"signal": sig.String()})
	case <-changed:
		logging.Info("binary_changed_restarting", nil)
		restart = true
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("server_error", nil, err)
			return 1
		}
		return 0
	}

	stopBackground()

	// Give the server 5 seconds to finish in-flight requests.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("shutdown_error", nil, err)
		return 1
	}
	logging.Info("shutdown_complete", nil)

	if restart {
		cleanup()
		if err := watcher.Reexec(); err != nil {
			logging.Error("reexec_failed", nil, err)
			return 1
		}
	}
	return 0
}

// dependencies are the optional collaborators built from configuration.
type dependencies struct {
	updater server.UpdateRunner
	audit   server.SaveAuditor
	pruner  server.AuditPruner
	mirror  server.PayloadMirror
}

// openDependencies connects the optional backends. An unset backend is
// skipped; a configured backend that cannot be reached is fatal.
func openDependencies(cfg config.Config) (dependencies, func(), error) {
	var deps dependencies
	var dbConn *sql.DB
	cleanup := func() {
		if dbConn != nil {
			_ = dbConn.Close()
			dbConn = nil
		}
	}

	if cfg.Update.Command != "" {
		inv, err := updater.New(updater.Options{
			Command: cfg.Update.Command,
			Dir:     cfg.Update.Dir,
			Timeout: cfg.Update.Timeout,
		})
		if err != nil {
			return deps, cleanup, err
		}
		deps.updater = inv
	}

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return deps, cleanup, err
		}
		dbConn = conn

		logging.Info("running_migrations", nil)
		if err := db.RunMigrations(conn); err != nil {
			cleanup()
			return deps, cleanup, err
		}
		logging.Info("migrations_complete", nil)
		audit := server.NewPGAudit(conn)
		deps.audit = audit
		deps.pruner = audit
	}

	if cfg.Mirror.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m, err := server.NewMinioMirror(ctx, server.MirrorOptions{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Bucket:    cfg.Mirror.Bucket,
			Prefix:    cfg.Mirror.Prefix,
		})
		if err != nil {
			cleanup()
			return deps, cleanup, err
		}
		deps.mirror = m
		logging.Info("mirror_enabled", map[string]any{"bucket": cfg.Mirror.Bucket, "prefix": cfg.Mirror.Prefix})
	}

	return deps, cleanup, nil
}

// serverConfig maps the loaded configuration onto the server.
func serverConfig(cfg config.Config, deps dependencies) server.Config {
	return server.Config{
		Addr:         cfg.Addr,
		DataDir:      cfg.DataDir,
		WebRoot:      cfg.WebRoot,
		Allowlist:    server.NewAllowlist(cfg.AllowedFiles...),
		MaxBodyBytes: cfg.MaxBodyBytes,
		JSONErrors:   cfg.JSONErrors,
		RateLimit:    cfg.RateLimit,
		Build:        server.BuildInfo{Version: cfg.Build.Version, Commit: cfg.Build.Commit},
		Updater:      deps.updater,
		Audit:        deps.audit,
		Mirror:       deps.mirror,
	}
}
