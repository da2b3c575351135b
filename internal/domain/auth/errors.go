package auth

import (
	"errors"
	"fmt"
)

// Code is a short machine-readable identifier for an auth failure.
// Codes are stable: dispatchers and clients key on them to distinguish
// "not logged in", "insufficient role", "needs approval", and "bad token".
type Code string

// Authentication failure codes (token structure and claims).
const (
	CodeNoToken          Code = "AUTH_NO_TOKEN"
	CodeInvalidFormat    Code = "AUTH_INVALID_FORMAT"
	CodeValidationFailed Code = "AUTH_VALIDATION_FAILED"
	CodeInvalidSignature Code = "AUTH_INVALID_SIGNATURE"
	CodeMissingSubject   Code = "AUTH_MISSING_SUB"
	CodeMissingAudience  Code = "AUTH_MISSING_AUD"
	CodeMissingIssuer    Code = "AUTH_MISSING_ISS"
	CodeTokenExpired     Code = "AUTH_TOKEN_EXPIRED"
	CodeTokenNotYetValid Code = "AUTH_TOKEN_NOT_YET_VALID"
	CodeInvalidAudience  Code = "AUTH_INVALID_AUDIENCE"
	CodeInvalidIssuer    Code = "AUTH_INVALID_ISSUER"
)

// Authorization failure codes (policy decisions).
const (
	CodeAccessDenied          Code = "AUTH_ACCESS_DENIED"
	CodeHumanApprovalRequired Code = "AUTH_HUMAN_APPROVAL_REQUIRED"
	CodeDangerousSQL          Code = "AUTH_DANGEROUS_SQL"
	CodeSelectOnly            Code = "AUTH_SELECT_ONLY"
)

// Session failure codes.
const (
	CodeSessionLimitExceeded Code = "SESSION_LIMIT_EXCEEDED"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
)

// AuthenticationError reports a bad, missing, expired, or malformed token.
// It always precedes any authorization decision.
type AuthenticationError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, supporting errors.Is/errors.As.
func (e *AuthenticationError) Unwrap() error { return e.Err }

// NewAuthenticationError creates an AuthenticationError with the given code.
func NewAuthenticationError(code Code, message string) *AuthenticationError {
	return &AuthenticationError{Code: code, Message: message}
}

// WrapAuthenticationError creates an AuthenticationError wrapping a more
// specific failure. Used for AUTH_VALIDATION_FAILED wrapping claim checks.
func WrapAuthenticationError(code Code, message string, err error) *AuthenticationError {
	return &AuthenticationError{Code: code, Message: message, Err: err}
}

// AuthorizationError reports that a known, authenticated identity lacks
// permission, requires unmet human approval, or failed the SQL content guard.
type AuthorizationError struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthorizationError creates an AuthorizationError with the given code.
func NewAuthorizationError(code Code, message string) *AuthorizationError {
	return &AuthorizationError{Code: code, Message: message}
}

// SessionError reports a session-store failure, chiefly the
// concurrent-session limit.
type SessionError struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSessionError creates a SessionError with the given code.
func NewSessionError(code Code, message string) *SessionError {
	return &SessionError{Code: code, Message: message}
}

// ErrCode extracts the machine-readable code from any auth error in the
// chain. Returns empty string if the error carries no code.
func ErrCode(err error) Code {
	var authn *AuthenticationError
	if errors.As(err, &authn) {
		// Prefer the most specific wrapped code.
		if inner := ErrCode(authn.Err); inner != "" && authn.Code == CodeValidationFailed {
			return inner
		}
		return authn.Code
	}
	var authz *AuthorizationError
	if errors.As(err, &authz) {
		return authz.Code
	}
	var sess *SessionError
	if errors.As(err, &sess) {
		return sess.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *AuthenticationError:
			if t.Code == code {
				return true
			}
		case *AuthorizationError:
			if t.Code == code {
				return true
			}
		case *SessionError:
			if t.Code == code {
				return true
			}
		}
	}
	return false
}

// SafeErrorMessage returns a client-safe message for an auth failure.
// Internal details are logged but never exposed to clients.
func SafeErrorMessage(err error) string {
	switch ErrCode(err) {
	case CodeNoToken:
		return "Authentication required"
	case CodeTokenExpired:
		return "Token expired"
	case CodeInvalidFormat, CodeValidationFailed, CodeInvalidSignature,
		CodeMissingSubject, CodeMissingAudience, CodeMissingIssuer,
		CodeTokenNotYetValid, CodeInvalidAudience, CodeInvalidIssuer:
		return "Invalid token"
	case CodeAccessDenied:
		return "Access denied by policy"
	case CodeHumanApprovalRequired:
		return "Operation requires human approval"
	case CodeDangerousSQL:
		return "Statement blocked by SQL guard"
	case CodeSelectOnly:
		return "Only SELECT statements are permitted for this role"
	case CodeSessionLimitExceeded:
		return "Too many concurrent sessions"
	case CodeSessionNotFound:
		return "Session expired"
	default:
		return "Internal error"
	}
}
