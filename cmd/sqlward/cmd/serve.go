package cmd

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/internal/adapter/inbound/stdio"
	auditfile "github.com/sqlward/sqlward/internal/adapter/outbound/audit"
	"github.com/sqlward/sqlward/internal/adapter/outbound/db"
	"github.com/sqlward/sqlward/internal/config"
	"github.com/sqlward/sqlward/internal/domain/audit"
	"github.com/sqlward/sqlward/internal/domain/policy"
	"github.com/sqlward/sqlward/internal/domain/session"
	"github.com/sqlward/sqlward/internal/domain/token"
	"github.com/sqlward/sqlward/internal/domain/tool"
	"github.com/sqlward/sqlward/internal/metrics"
	"github.com/sqlward/sqlward/internal/observe"
	"github.com/sqlward/sqlward/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway on stdin/stdout",
	Long: `Start the sqlward gateway.

The gateway reads newline-delimited JSON-RPC messages from stdin and
writes responses to stdout. Logs and traces go to stderr. An optional
Prometheus endpoint is served when server.metrics_addr is configured.

Examples:
  # Start with config file settings
  sqlward serve

  # Start with a specific config file
  sqlward --config /path/to/config.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logger goes to stderr; stdout is reserved for the JSON-RPC stream.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if file := config.FileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	return run(ctx, cfg, logger)
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := observe.SetupTracing("sqlward", Version, cfg.Server.TracingEnabled)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	validator := token.NewValidator(token.Config{
		Secret:           cfg.Auth.SigningSecret,
		AllowedAudiences: cfg.Auth.AllowedAudiences,
		AllowedIssuers:   cfg.Auth.AllowedIssuers,
	}, logger)
	if cfg.Auth.SigningSecret == "" {
		logger.Warn("no signing secret configured, token signatures are NOT verified")
	}

	sessions := session.NewManager(session.Config{
		Timeout:    cfg.Auth.SessionTimeout,
		MaxPerUser: cfg.Auth.MaxConcurrentSessions,
	}, logger)
	sessions.StartSweep(ctx)

	engine := policy.NewEngine(cfg.Auth.HumanApprovalTools, logger)
	if cfg.RolesFile != "" {
		if err := engine.LoadRolesFile(cfg.RolesFile); err != nil {
			return fmt.Errorf("load roles file: %w", err)
		}
	}

	trailOpts := []audit.Option{audit.WithCapacity(cfg.Audit.Capacity)}
	if cfg.Audit.Dir != "" {
		archive, err := auditfile.NewArchive(auditfile.ArchiveConfig{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		}, logger)
		if err != nil {
			return fmt.Errorf("open audit archive: %w", err)
		}
		defer archive.Close()
		trailOpts = append(trailOpts, audit.WithSink(archive.Write))
	}
	trail := audit.NewTrail(logger, trailOpts...)
	trail.SetEnabled(cfg.Auth.AuditEnabled)

	var rules *service.RuleService
	if len(cfg.Rules) > 0 {
		rules, err = service.NewRuleService(cfg.Rules, logger)
		if err != nil {
			return fmt.Errorf("compile guard rules: %w", err)
		}
	}

	authz := service.NewAuthService(validator, sessions, engine, trail, rules, m, logger)
	defer authz.Shutdown()

	executor, err := db.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer executor.Close()

	dispatcher := service.NewDispatcher(authz, executor, tool.NewRegistry(),
		cfg.Server.ProjectURL, m, logger)

	if cfg.Server.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.Server.MetricsAddr, registry, logger)
	}

	logger.Info("sqlward started",
		"version", Version,
		"database", cfg.Database.Path,
		"audit_enabled", cfg.Auth.AuditEnabled,
		"rules", len(cfg.Rules),
	)

	server := stdio.NewServer(authz, dispatcher, Version, logger)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("sqlward stopped")
	return nil
}

// startMetricsServer serves the Prometheus endpoint until ctx ends.
func startMetricsServer(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := stdhttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
