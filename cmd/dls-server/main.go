// Package main provides the entry point for the document-level security
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dls-engine/go-core/internal/api"
	"github.com/dls-engine/go-core/internal/audit"
	"github.com/dls-engine/go-core/internal/auth"
	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/internal/engine"
	"github.com/dls-engine/go-core/internal/index"
	"github.com/dls-engine/go-core/internal/metrics"
	"github.com/dls-engine/go-core/internal/roles"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		port            = flag.Int("port", 9200, "HTTP server port")
		rolesFile       = flag.String("roles-file", "config/roles.yml", "Role definitions file")
		usersFile       = flag.String("users-file", "config/users.yml", "Users and role mappings file")
		auditLog        = flag.String("audit-log", "", "Audit log file (stdout when empty)")
		jwtSecret       = flag.String("jwt-secret", "", "HMAC secret for bearer tokens (disabled when empty)")
		tokenTTL        = flag.Duration("token-ttl", time.Hour, "Bearer token lifetime")
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("dls-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting document security server",
		zap.String("version", Version),
		zap.Int("port", *port),
	)

	// Role definitions with hot reload.
	loader := roles.NewLoader(logger)
	snap, err := loader.LoadFile(*rolesFile)
	if err != nil {
		logger.Fatal("Failed to load roles", zap.Error(err))
	}
	roleStore := roles.NewStore(logger)
	roleStore.Swap(snap)

	watcher, err := roles.NewFileWatcher(*rolesFile, roleStore, loader, logger)
	if err != nil {
		logger.Fatal("Failed to create roles watcher", zap.Error(err))
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := watcher.Watch(watchCtx); err != nil {
		logger.Fatal("Failed to watch roles file", zap.Error(err))
	}
	defer watcher.Stop()

	// Users file.
	authenticator := auth.NewAuthenticator(logger)
	if err := authenticator.LoadFile(*usersFile); err != nil {
		logger.Fatal("Failed to load users", zap.Error(err))
	}

	// Audit trail.
	auditWriter := audit.NewStdoutWriter()
	if *auditLog != "" {
		auditWriter, err = audit.NewFileWriter(*auditLog, 100, 30, 10)
		if err != nil {
			logger.Fatal("Failed to open audit log", zap.Error(err))
		}
	}
	auditLogger := audit.NewLogger(auditWriter, 1024, logger)
	defer auditLogger.Close()
	auditLogger.Log(audit.Event{EventType: audit.EventTypeStartup})

	collector := metrics.New("dls")

	eng := engine.New(
		index.NewStore(logger),
		dls.NewResolver(roleStore, logger),
		logger,
		engine.Config{Metrics: collector, Audit: auditLogger},
	)

	var tokens *auth.TokenIssuer
	if *jwtSecret != "" {
		tokens, err = auth.NewTokenIssuer([]byte(*jwtSecret), "dls-server", *tokenTTL)
		if err != nil {
			logger.Fatal("Failed to create token issuer", zap.Error(err))
		}
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Port = *port
	srv, err := api.New(apiConfig, eng, authenticator, logger, api.Options{
		Tokens:  tokens,
		Metrics: collector,
		Audit:   auditLogger,
	})
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Surface role reloads in the server log.
	go func() {
		for ev := range watcher.EventChan() {
			collector.RecordSnapshotReload(ev.Error == nil)
			auditLogger.Log(audit.Event{
				EventType: audit.EventTypeConfigReload,
				Detail:    reloadDetail(ev),
			})
		}
	}()

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}

	auditLogger.Log(audit.Event{EventType: audit.EventTypeShutdown})
	logger.Info("Server stopped successfully")
}

func reloadDetail(ev roles.ReloadedEvent) string {
	if ev.Error != nil {
		return fmt.Sprintf("reload failed: %v", ev.Error)
	}
	return fmt.Sprintf("reloaded version %d", ev.Version)
}

// initLogger initializes the zap logger.
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
