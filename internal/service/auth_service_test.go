package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sqlward/sqlward/internal/domain/audit"
	"github.com/sqlward/sqlward/internal/domain/auth"
	"github.com/sqlward/sqlward/internal/domain/policy"
	"github.com/sqlward/sqlward/internal/domain/session"
	"github.com/sqlward/sqlward/internal/domain/token"
)

const testSecret = "test-signing-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type authFixture struct {
	service  *AuthService
	sessions *session.Manager
	trail    *audit.Trail
}

func newAuthFixture(t *testing.T, humanApproval []string, rules *RuleService) *authFixture {
	t.Helper()
	logger := discardLogger()
	validator := token.NewValidator(token.Config{
		Secret:           testSecret,
		AllowedAudiences: []string{"svc"},
		AllowedIssuers:   []string{"issuer"},
	}, logger)
	sessions := session.NewManager(session.Config{Timeout: 30 * time.Minute, MaxPerUser: 5}, logger)
	t.Cleanup(sessions.Close)
	engine := policy.NewEngine(humanApproval, logger)
	trail := audit.NewTrail(logger)

	return &authFixture{
		service:  NewAuthService(validator, sessions, engine, trail, rules, nil, logger),
		sessions: sessions,
		trail:    trail,
	}
}

func operatorClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "u1",
		"aud":   "svc",
		"iss":   "issuer",
		"roles": []string{"operator"},
	}
}

func opCtx(roles ...string) *auth.Context {
	return &auth.Context{
		UserID:        "u1",
		SessionID:     "s1",
		Roles:         roles,
		Authenticated: true,
	}
}

func TestAuthenticateOperatorFlow(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	ctx, err := f.service.Authenticate(signTestToken(t, operatorClaims()), "agent/1.0", "10.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if !ctx.Authenticated {
		t.Error("context should be authenticated")
	}
	if ctx.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", ctx.UserID)
	}
	if len(ctx.Roles) != 1 || ctx.Roles[0] != "operator" {
		t.Errorf("Roles = %v, want [operator]", ctx.Roles)
	}
	if f.service.ValidateSession(ctx.SessionID) == nil {
		t.Error("session should be live after authentication")
	}
	if !f.service.ValidateTokenAudience(ctx, "svc") {
		t.Error("token audience svc should validate")
	}
	if f.service.ValidateTokenAudience(ctx, "other") {
		t.Error("token audience other should not validate")
	}
}

func TestAuthenticateFailureAuditedNoSession(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	_, err := f.service.Authenticate("not-a-jwt", "agent/1.0", "10.0.0.1")
	if err == nil {
		t.Fatal("Authenticate() should fail for malformed token")
	}

	if f.sessions.Size() != 0 {
		t.Errorf("failed auth created %d sessions, want 0", f.sessions.Size())
	}
	failures := f.trail.FailedAuth(time.Time{})
	if len(failures) != 1 {
		t.Fatalf("FailedAuth() = %d events, want 1", len(failures))
	}
	if failures[0].IPAddress != "10.0.0.1" {
		t.Errorf("failure event IP = %q, want client address", failures[0].IPAddress)
	}
}

func TestAuthenticateSessionLimitFallback(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	// Tighten the cap to one session.
	f.sessions.Close()
	sessions := session.NewManager(session.Config{Timeout: 30 * time.Minute, MaxPerUser: 1}, discardLogger())
	t.Cleanup(sessions.Close)
	f.service.sessions = sessions

	first, err := f.service.Authenticate(signTestToken(t, operatorClaims()), "", "")
	if err != nil {
		t.Fatalf("first Authenticate() error: %v", err)
	}
	second, err := f.service.Authenticate(signTestToken(t, operatorClaims()), "", "")
	if err != nil {
		t.Fatalf("second Authenticate() should reuse a session, got error: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Error("at the session cap the oldest active session should be reused")
	}
	if sessions.Size() != 1 {
		t.Errorf("session store size = %d, want 1", sessions.Size())
	}
}

func TestAuthorizeOperationRBAC(t *testing.T) {
	f := newAuthFixture(t, nil, nil)
	operator := opCtx(policy.RoleOperator)

	if err := f.service.AuthorizeOperation(operator, "apply_migration", nil); err != nil {
		t.Errorf("operator should apply migrations, got %v", err)
	}
	if err := f.service.AuthorizeOperation(operator, "list_tables", nil); err != nil {
		t.Errorf("operator should list tables, got %v", err)
	}

	err := f.service.AuthorizeOperation(operator, "delete_auth_user", nil)
	if !auth.HasCode(err, auth.CodeAccessDenied) {
		t.Errorf("delete_auth_user for operator = %v, want AUTH_ACCESS_DENIED", err)
	}

	// Every decision lands in the audit trail.
	decisions := f.trail.ByAction(audit.ActionAuthorize)
	if len(decisions) != 3 {
		t.Errorf("audited %d authorization decisions, want 3", len(decisions))
	}
}

func TestAuthorizeOperationRejectsBadName(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	err := f.service.AuthorizeOperation(opCtx(policy.RoleAdmin), "../escape", nil)
	if !auth.HasCode(err, auth.CodeAccessDenied) {
		t.Errorf("invalid operation name = %v, want AUTH_ACCESS_DENIED", err)
	}
}

func TestAuthorizeExecuteSQL(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	tests := []struct {
		name     string
		ctx      *auth.Context
		sql      string
		wantCode auth.Code
	}{
		{"operator select admitted", opCtx(policy.RoleOperator), "SELECT * FROM users", ""},
		{"operator insert rejected", opCtx(policy.RoleOperator), "INSERT INTO t VALUES (1)", auth.CodeSelectOnly},
		{"operator drop rejected", opCtx(policy.RoleOperator), "DROP TABLE users", auth.CodeDangerousSQL},
		{"operator cte update rejected", opCtx(policy.RoleOperator),
			"WITH x AS (SELECT 1) UPDATE auth_users SET email = 'evil@x'", auth.CodeSelectOnly},
		{"operator cte insert rejected", opCtx(policy.RoleOperator),
			"WITH x AS (SELECT 1) INSERT INTO auth_users SELECT * FROM x", auth.CodeSelectOnly},
		{"operator trailing drop trigger rejected", opCtx(policy.RoleOperator),
			"SELECT 1; DROP TRIGGER audit_trigger", auth.CodeDangerousSQL},
		{"operator explain rejected", opCtx(policy.RoleOperator), "EXPLAIN QUERY PLAN SELECT 1", auth.CodeSelectOnly},
		{"admin drop admitted", opCtx(policy.RoleAdmin), "DROP TABLE users", ""},
		{"admin cte update admitted", opCtx(policy.RoleAdmin),
			"WITH x AS (SELECT 1) UPDATE auth_users SET email = 'e@x'", ""},
		{"service_role insert admitted", opCtx(policy.RoleServiceRole), "INSERT INTO t VALUES (1)", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.AuthorizeOperation(tt.ctx, "execute_sql", map[string]any{"sql": tt.sql})
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("AuthorizeOperation() error: %v", err)
				}
				return
			}
			if !auth.HasCode(err, tt.wantCode) {
				t.Errorf("code = %s, want %s (error: %v)", auth.ErrCode(err), tt.wantCode, err)
			}
		})
	}
}

func TestCheckSQLContent(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	// The content guard is independent of RBAC; an authenticated context
	// may not be able to execute SQL at all, but its SELECT passes here.
	if err := f.service.CheckSQLContent(opCtx(policy.RoleAuthenticated), "SELECT 1"); err != nil {
		t.Errorf("SELECT should pass the content guard, got %v", err)
	}
	err := f.service.CheckSQLContent(opCtx(policy.RoleAuthenticated), "DELETE FROM users")
	if !auth.HasCode(err, auth.CodeDangerousSQL) {
		t.Errorf("DELETE = %v, want AUTH_DANGEROUS_SQL", err)
	}
	if err := f.service.CheckSQLContent(opCtx(policy.RoleAdmin), "TRUNCATE users"); err != nil {
		t.Errorf("admin bypasses the content guard, got %v", err)
	}
}

func TestAuthorizeHumanApproval(t *testing.T) {
	f := newAuthFixture(t, []string{"delete_auth_user"}, nil)

	err := f.service.AuthorizeOperation(opCtx(policy.RoleServiceRole), "delete_auth_user", nil)
	if !auth.HasCode(err, auth.CodeHumanApprovalRequired) {
		t.Errorf("service_role = %v, want AUTH_HUMAN_APPROVAL_REQUIRED", err)
	}

	if err := f.service.AuthorizeOperation(opCtx(policy.RoleAdmin), "delete_auth_user", nil); err != nil {
		t.Errorf("admin should bypass human approval, got %v", err)
	}
}

func TestAuthorizeGuardRules(t *testing.T) {
	rules := mustRuleService(t, []RuleConfig{
		{Name: "block_sqlite_master", ToolMatch: "execute_sql", Condition: `args.sql.contains("sqlite_master")`, Action: RuleActionDeny},
		{Name: "review_hooks", ToolMatch: "rebuild_hooks", Condition: "true", Action: RuleActionApprovalRequired},
	})
	f := newAuthFixture(t, nil, rules)

	err := f.service.AuthorizeOperation(opCtx(policy.RoleOperator), "execute_sql",
		map[string]any{"sql": "SELECT sql FROM sqlite_master"})
	if !auth.HasCode(err, auth.CodeAccessDenied) {
		t.Errorf("rule deny = %v, want AUTH_ACCESS_DENIED", err)
	}

	err = f.service.AuthorizeOperation(opCtx(policy.RoleServiceRole), "rebuild_hooks", nil)
	if !auth.HasCode(err, auth.CodeHumanApprovalRequired) {
		t.Errorf("rule approval = %v, want AUTH_HUMAN_APPROVAL_REQUIRED", err)
	}

	// Rules run after RBAC; a passing invocation is unaffected.
	if err := f.service.AuthorizeOperation(opCtx(policy.RoleOperator), "execute_sql",
		map[string]any{"sql": "SELECT 1"}); err != nil {
		t.Errorf("clean invocation error: %v", err)
	}
}

func TestDestroySession(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	ctx, err := f.service.Authenticate(signTestToken(t, operatorClaims()), "", "")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	f.service.DestroySession(ctx.SessionID)
	if f.service.ValidateSession(ctx.SessionID) != nil {
		t.Error("destroyed session should not validate")
	}
	// Idempotent.
	f.service.DestroySession(ctx.SessionID)
}

func TestAnonymousContext(t *testing.T) {
	f := newAuthFixture(t, nil, nil)

	ctx := f.service.AnonymousContext()
	if ctx.Authenticated {
		t.Error("anonymous context must not be authenticated")
	}
	if ctx.SessionID != auth.AnonymousSessionID {
		t.Errorf("SessionID = %q, want %q", ctx.SessionID, auth.AnonymousSessionID)
	}

	if err := f.service.AuthorizeOperation(ctx, "list_tables", nil); err != nil {
		t.Errorf("anon should read public data, got %v", err)
	}
	err := f.service.AuthorizeOperation(ctx, "delete_auth_user", nil)
	if !auth.HasCode(err, auth.CodeAccessDenied) {
		t.Errorf("anon delete_auth_user = %v, want AUTH_ACCESS_DENIED", err)
	}
}
