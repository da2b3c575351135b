package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sqlward/sqlward/internal/adapter/outbound/db"
	"github.com/sqlward/sqlward/internal/ctxkey"
	"github.com/sqlward/sqlward/internal/domain/audit"
	"github.com/sqlward/sqlward/internal/domain/auth"
	"github.com/sqlward/sqlward/internal/domain/tool"
	"github.com/sqlward/sqlward/internal/metrics"
)

// Dispatcher executes authorized operations against the database and
// reports outcomes back to the audit trail.
type Dispatcher struct {
	authz      *AuthService
	executor   *db.Executor
	registry   *tool.Registry
	projectURL string
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewDispatcher wires the operation dispatcher.
func NewDispatcher(
	authz *AuthService,
	executor *db.Executor,
	registry *tool.Registry,
	projectURL string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		authz:      authz,
		executor:   executor,
		registry:   registry,
		projectURL: projectURL,
		metrics:    m,
		tracer:     otel.Tracer("sqlward/dispatch"),
		logger:     logger,
	}
}

// Tools lists the operations available to callers.
func (d *Dispatcher) Tools() []tool.Tool {
	return d.registry.List()
}

// Dispatch authorizes and executes a named operation for the given
// context. The execution outcome is audited whether it succeeds or not.
func (d *Dispatcher) Dispatch(ctx context.Context, authCtx *auth.Context, operation string, args map[string]any) (any, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("tool", operation),
			attribute.String("user_id", authCtx.UserID),
		))
	defer span.End()

	if reqID, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok && reqID != "" {
		span.SetAttributes(attribute.String("request_id", reqID))
	}

	if _, ok := d.registry.Get(operation); !ok {
		err := fmt.Errorf("unknown tool: %s", operation)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := d.authz.AuthorizeOperation(authCtx, operation, args); err != nil {
		span.SetStatus(codes.Error, "denied")
		return nil, err
	}

	start := time.Now()
	result, err := d.execute(ctx, operation, args)
	duration := time.Since(start)
	d.metrics.ToolDuration.WithLabelValues(operation).Observe(duration.Seconds())

	outcome := audit.OutcomeSuccess
	details := map[string]any{"duration_ms": duration.Milliseconds()}
	if err != nil {
		outcome = audit.OutcomeError
		details["error"] = err.Error()
		span.SetStatus(codes.Error, err.Error())
	}
	d.authz.Trail().LogToolExecution(authCtx.UserID, authCtx.SessionID, operation, outcome, details)
	d.metrics.ToolExecutions.WithLabelValues(operation, outcome).Inc()

	if err != nil {
		return nil, err
	}
	return result, nil
}

// execute runs one operation. Authorization has already passed.
func (d *Dispatcher) execute(ctx context.Context, operation string, args map[string]any) (any, error) {
	switch operation {
	case "execute_sql":
		sql, _ := args["sql"].(string)
		if sql == "" {
			return nil, fmt.Errorf("execute_sql: sql argument is required")
		}
		if IsReadOnlySQL(sql) {
			return d.executor.Query(ctx, sql)
		}
		affected, err := d.executor.Exec(ctx, sql)
		if err != nil {
			return nil, err
		}
		return map[string]any{"rows_affected": affected}, nil

	case "apply_migration":
		name, _ := args["name"].(string)
		sql, _ := args["sql"].(string)
		if name == "" || sql == "" {
			return nil, fmt.Errorf("apply_migration: name and sql arguments are required")
		}
		if err := d.executor.ApplyMigration(ctx, name, sql); err != nil {
			return nil, err
		}
		return map[string]any{"applied": name}, nil

	case "list_migrations":
		return d.executor.ListMigrations(ctx)

	case "list_tables":
		return d.executor.ListTables(ctx)

	case "list_extensions":
		return d.executor.ListExtensions(ctx)

	case "get_database_stats":
		return d.executor.DatabaseStats(ctx)

	case "get_project_url":
		return map[string]any{"url": d.projectURL}, nil

	case "list_auth_users":
		return d.executor.ListAuthUsers(ctx)

	case "get_auth_user":
		userID, _ := args["user_id"].(string)
		if userID == "" {
			return nil, fmt.Errorf("get_auth_user: user_id argument is required")
		}
		return d.executor.GetAuthUser(ctx, userID)

	case "create_auth_user":
		email, _ := args["email"].(string)
		if email == "" {
			return nil, fmt.Errorf("create_auth_user: email argument is required")
		}
		return d.executor.CreateAuthUser(ctx, email)

	case "update_auth_user":
		userID, _ := args["user_id"].(string)
		email, _ := args["email"].(string)
		if userID == "" || email == "" {
			return nil, fmt.Errorf("update_auth_user: user_id and email arguments are required")
		}
		return d.executor.UpdateAuthUser(ctx, userID, email)

	case "delete_auth_user":
		userID, _ := args["user_id"].(string)
		if userID == "" {
			return nil, fmt.Errorf("delete_auth_user: user_id argument is required")
		}
		if err := d.executor.DeleteAuthUser(ctx, userID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": userID}, nil

	case "rebuild_hooks":
		if err := d.executor.RebuildHooks(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"rebuilt": true}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", operation)
	}
}
