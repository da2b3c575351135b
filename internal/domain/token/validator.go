package token

import (
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sqlward/sqlward/internal/domain/auth"
)

// ClockSkewTolerance is how far in the future an iat claim may sit before
// the token is rejected as not yet valid. Exactly 60 seconds.
const ClockSkewTolerance = 60 * time.Second

// Config holds token validation policy.
type Config struct {
	// Secret is the HMAC-SHA256 signing secret. When empty, signature
	// verification is skipped and only structural/claims validation runs.
	Secret string
	// AllowedAudiences restricts the aud claim when non-empty.
	AllowedAudiences []string
	// AllowedIssuers restricts the iss claim when non-empty.
	AllowedIssuers []string
}

// Validator parses and validates bearer tokens against configured policy.
// Pure parse-and-check; no side effects.
type Validator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a Validator. A nil logger defaults to slog.Default().
// An empty signing secret logs a warning once: structural validation alone
// is not a production trust boundary.
func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Secret == "" {
		logger.Warn("token signature verification disabled: no signing secret configured")
	}
	return &Validator{
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the validator's clock. Intended for tests.
func (v *Validator) SetClock(now func() time.Time) { v.now = now }

// jwtClaims is the wire shape of the token payload. Audience accepts both
// a single string and an array of strings via jwt.ClaimStrings.
type jwtClaims struct {
	Role        string   `json:"role,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Validate checks a raw bearer token and returns its claims.
//
// Failure codes, in order:
//   - AUTH_NO_TOKEN for empty input
//   - AUTH_INVALID_FORMAT when the token is not three dot-separated segments
//   - AUTH_VALIDATION_FAILED wrapping the specific claim failure
//     (AUTH_MISSING_SUB, AUTH_MISSING_AUD, AUTH_MISSING_ISS,
//     AUTH_TOKEN_EXPIRED, AUTH_TOKEN_NOT_YET_VALID, AUTH_INVALID_AUDIENCE,
//     AUTH_INVALID_ISSUER, AUTH_INVALID_SIGNATURE)
func (v *Validator) Validate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, auth.NewAuthenticationError(auth.CodeNoToken, "no token provided")
	}
	if len(strings.Split(raw, ".")) != 3 {
		return nil, auth.NewAuthenticationError(auth.CodeInvalidFormat, "token is not a three-segment JWT")
	}

	parsed, err := v.parse(raw)
	if err != nil {
		return nil, err
	}

	if err := v.checkClaims(parsed); err != nil {
		return nil, auth.WrapAuthenticationError(auth.CodeValidationFailed, "token validation failed", err)
	}

	claims := &Claims{
		Subject:     parsed.Subject,
		Audience:    append([]string(nil), parsed.Audience...),
		Issuer:      parsed.Issuer,
		Roles:       mergeRoles(parsed.Role, parsed.Roles),
		Permissions: append([]string(nil), parsed.Permissions...),
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// parse decodes the token, verifying the HMAC signature when a secret is
// configured. Claim validation is deferred to checkClaims so each failure
// maps to its own code.
func (v *Validator) parse(raw string) (*jwtClaims, error) {
	claims := &jwtClaims{}

	if v.cfg.Secret == "" {
		parser := jwt.NewParser(jwt.WithoutClaimsValidation())
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			return nil, auth.WrapAuthenticationError(auth.CodeInvalidFormat, "token payload could not be decoded", err)
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return []byte(v.cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, auth.WrapAuthenticationError(auth.CodeValidationFailed, "token validation failed",
			auth.WrapAuthenticationError(auth.CodeInvalidSignature, "token signature could not be verified", err))
	}
	return claims, nil
}

// checkClaims runs the ordered claim checks. Each failure gets its own
// distinct code so callers can distinguish them.
func (v *Validator) checkClaims(c *jwtClaims) error {
	if c.Subject == "" {
		return auth.NewAuthenticationError(auth.CodeMissingSubject, "token missing sub claim")
	}
	if len(c.Audience) == 0 {
		return auth.NewAuthenticationError(auth.CodeMissingAudience, "token missing aud claim")
	}
	if c.Issuer == "" {
		return auth.NewAuthenticationError(auth.CodeMissingIssuer, "token missing iss claim")
	}

	now := v.now()
	if c.ExpiresAt != nil && !c.ExpiresAt.Time.After(now) {
		return auth.NewAuthenticationError(auth.CodeTokenExpired, "token has expired")
	}
	if c.IssuedAt != nil && c.IssuedAt.Time.After(now.Add(ClockSkewTolerance)) {
		return auth.NewAuthenticationError(auth.CodeTokenNotYetValid, "token issued in the future")
	}

	if len(v.cfg.AllowedAudiences) > 0 && !anyAudienceAllowed(c.Audience, v.cfg.AllowedAudiences) {
		return auth.NewAuthenticationError(auth.CodeInvalidAudience, "token audience is not allowed")
	}
	if len(v.cfg.AllowedIssuers) > 0 && !contains(v.cfg.AllowedIssuers, c.Issuer) {
		return auth.NewAuthenticationError(auth.CodeInvalidIssuer, "token issuer is not allowed")
	}
	return nil
}

// anyAudienceAllowed reports whether any token audience appears in the
// allow-list.
func anyAudienceAllowed(audience jwt.ClaimStrings, allowed []string) bool {
	for _, a := range audience {
		if contains(allowed, a) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
