// Package service orchestrates token validation, sessions, policy, and
// audit into the request-facing authentication and authorization flow.
package service

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sqlward/sqlward/internal/domain/audit"
	"github.com/sqlward/sqlward/internal/domain/auth"
	"github.com/sqlward/sqlward/internal/domain/policy"
	"github.com/sqlward/sqlward/internal/domain/session"
	"github.com/sqlward/sqlward/internal/domain/token"
	"github.com/sqlward/sqlward/internal/domain/tool"
	"github.com/sqlward/sqlward/internal/metrics"
)

// AuthService is the authentication middleware. It turns raw bearer
// tokens into authorization contexts and gates every named operation
// before the dispatcher executes it.
type AuthService struct {
	validator *token.Validator
	sessions  *session.Manager
	engine    *policy.Engine
	trail     *audit.Trail
	rules     *RuleService
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewAuthService wires the middleware. rules may be nil when no guard
// rules are configured; a nil m records to a private registry.
func NewAuthService(
	validator *token.Validator,
	sessions *session.Manager,
	engine *policy.Engine,
	trail *audit.Trail,
	rules *RuleService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &AuthService{
		validator: validator,
		sessions:  sessions,
		engine:    engine,
		trail:     trail,
		rules:     rules,
		metrics:   m,
		logger:    logger,
	}
}

// Authenticate validates a bearer token and establishes a session,
// returning the authorization context for the request. Failures are
// audited and propagated unchanged.
//
// When session creation fails on the concurrent-session cap, the caller's
// oldest still-valid session is reused instead of failing the attempt.
func (s *AuthService) Authenticate(rawToken, userAgent, ipAddress string) (*auth.Context, error) {
	claims, err := s.validator.Validate(rawToken)
	if err != nil {
		s.trail.LogClientEvent(audit.Event{
			Action:    audit.ActionAuthenticate,
			Outcome:   audit.OutcomeFailure,
			UserAgent: userAgent,
			IPAddress: ipAddress,
			Details:   map[string]any{"code": string(auth.ErrCode(err))},
		})
		s.metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, err
	}

	sess, err := s.sessions.Create(claims.Subject, userAgent, ipAddress)
	if err != nil {
		if !auth.HasCode(err, auth.CodeSessionLimitExceeded) {
			return nil, err
		}
		sess = s.sessions.OldestActive(claims.Subject)
		if sess == nil {
			return nil, err
		}
		s.trail.LogSession(claims.Subject, sess.ID, audit.OutcomeSuccess,
			map[string]any{"event": "session_reused", "reason": "session_limit"})
		s.logger.Debug("session limit reached, reusing oldest session",
			"user_id", claims.Subject, "session_id", sess.ID)
	} else {
		s.trail.LogSession(claims.Subject, sess.ID, audit.OutcomeSuccess,
			map[string]any{"event": "session_created"})
	}

	ctx := &auth.Context{
		UserID:        claims.Subject,
		SessionID:     sess.ID,
		Roles:         claims.Roles,
		Permissions:   claims.Permissions,
		Authenticated: true,
		TokenAudience: claims.Audience,
		TokenIssuer:   claims.Issuer,
		TokenSubject:  claims.Subject,
		TokenExpiry:   claims.ExpiresAt,
	}

	s.trail.LogClientEvent(audit.Event{
		UserID:    ctx.UserID,
		SessionID: ctx.SessionID,
		Action:    audit.ActionAuthenticate,
		Outcome:   audit.OutcomeSuccess,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		Details:   map[string]any{"roles": claims.Roles},
	})
	s.metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.Size()))

	return ctx, nil
}

// AnonymousContext returns the fixed context used when no token is
// supplied and the operation's policy permits anonymous access.
func (s *AuthService) AnonymousContext() *auth.Context {
	return auth.Anonymous()
}

// AuthorizeOperation decides whether ctx may invoke the named operation
// with the given arguments. The decision is audited either way.
//
// Check order: operation name validity, SQL content guard (for the
// arbitrary-SQL operation), RBAC enforcement, human approval, then
// configured guard rules.
func (s *AuthService) AuthorizeOperation(ctx *auth.Context, operation string, args map[string]any) error {
	if err := tool.ValidateName(operation); err != nil {
		wrapped := auth.NewAuthorizationError(auth.CodeAccessDenied, err.Error())
		s.auditDecision(ctx, operation, wrapped)
		return wrapped
	}

	conditions := map[string]any{}
	if operation == "execute_sql" {
		sql, _ := args["sql"].(string)
		if err := s.CheckSQLContent(ctx, sql); err != nil {
			s.auditDecision(ctx, operation, err)
			return err
		}
		conditions["readOnly"] = IsReadOnlySQL(sql)
	}

	required := s.engine.ToolPermission(operation)
	for k, v := range required.Conditions {
		conditions[k] = v
	}
	if err := s.engine.Enforce(ctx, required.Action, required.Resource, conditions); err != nil {
		s.auditDecision(ctx, operation, err)
		return err
	}

	if s.engine.RequiresHumanApproval(operation, ctx) {
		err := auth.NewAuthorizationError(auth.CodeHumanApprovalRequired,
			fmt.Sprintf("operation %s requires human approval", operation))
		s.auditDecision(ctx, operation, err)
		return err
	}

	if s.rules != nil {
		argsJSON, _ := json.Marshal(args)
		decision := s.rules.Evaluate(operation, ctx.UserID, ctx.Roles, args, argsJSON)
		switch decision.Action {
		case RuleActionDeny:
			err := auth.NewAuthorizationError(auth.CodeAccessDenied,
				fmt.Sprintf("denied by rule %s", decision.Matched))
			s.auditDecision(ctx, operation, err)
			return err
		case RuleActionApprovalRequired:
			err := auth.NewAuthorizationError(auth.CodeHumanApprovalRequired,
				fmt.Sprintf("rule %s requires human approval", decision.Matched))
			s.auditDecision(ctx, operation, err)
			return err
		}
	}

	s.auditDecision(ctx, operation, nil)
	return nil
}

// CheckSQLContent applies the content guard for arbitrary SQL execution.
// Contexts holding admin or service_role bypass both checks. The checks
// are pattern-based, not a parsed grammar; obfuscated SQL can evade them.
func (s *AuthService) CheckSQLContent(ctx *auth.Context, sql string) error {
	if ctx.HasAnyRole(policy.RoleAdmin, policy.RoleServiceRole) {
		return nil
	}
	if pattern := DangerousSQL(sql); pattern != "" {
		return auth.NewAuthorizationError(auth.CodeDangerousSQL,
			fmt.Sprintf("statement matches dangerous pattern %q", pattern))
	}
	if !IsSelectStatement(sql) {
		return auth.NewAuthorizationError(auth.CodeSelectOnly,
			"only SELECT statements are permitted for this role")
	}
	return nil
}

// ValidateTokenAudience checks the context's token audience against a
// required audience, independent of the general policy check.
func (s *AuthService) ValidateTokenAudience(ctx *auth.Context, requiredAudience string) bool {
	return token.AudienceContains(ctx.TokenAudience, requiredAudience)
}

// ValidateSession refreshes and returns a session, or nil when it is
// unknown, expired, or inactive.
func (s *AuthService) ValidateSession(sessionID string) *session.Session {
	return s.sessions.Validate(sessionID)
}

// DestroySession removes a session. Idempotent.
func (s *AuthService) DestroySession(sessionID string) {
	s.sessions.Destroy(sessionID)
	s.trail.LogSession("", sessionID, audit.OutcomeSuccess,
		map[string]any{"event": "session_destroyed"})
	s.metrics.ActiveSessions.Set(float64(s.sessions.Size()))
}

// Trail exposes the audit query surface.
func (s *AuthService) Trail() *audit.Trail {
	return s.trail
}

// Shutdown stops background activity and releases held resources.
func (s *AuthService) Shutdown() {
	s.sessions.Close()
	s.logger.Info("auth service shut down")
}

// auditDecision records an authorization outcome. err nil means admitted.
func (s *AuthService) auditDecision(ctx *auth.Context, operation string, err error) {
	outcome := audit.OutcomeSuccess
	details := map[string]any{"decision": "admitted"}
	if err != nil {
		outcome = audit.OutcomeFailure
		details = map[string]any{
			"decision": "denied",
			"code":     string(auth.ErrCode(err)),
		}
	}
	s.trail.LogAuthz(ctx.UserID, ctx.SessionID, operation, outcome, details)
	s.metrics.AuthzDecisions.WithLabelValues(operation, outcome).Inc()
}
