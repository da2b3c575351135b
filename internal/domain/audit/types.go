// Package audit provides the append-only, size-bounded security event log.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Action values for the built-in event categories.
const (
	ActionAuthenticate  = "authenticate"
	ActionAuthorize     = "authorize"
	ActionToolExecution = "tool_execution"
	ActionSession       = "session"
)

// Event is an immutable record of a security-relevant decision or action.
// Appended, never mutated; reclaimed only by ring-buffer rotation.
type Event struct {
	// EventID is "audit_<unix-nanos>_<random>".
	EventID string `json:"event_id"`
	// Timestamp is when the event was recorded (UTC).
	Timestamp time.Time `json:"timestamp"`
	// UserID of the acting user, if known.
	UserID string `json:"user_id,omitempty"`
	// SessionID of the acting session, if known.
	SessionID string `json:"session_id,omitempty"`
	// Action categorizes the event.
	Action string `json:"action"`
	// Resource is what the action targeted (operation name, session, ...).
	Resource string `json:"resource,omitempty"`
	// Outcome is success, failure, or error.
	Outcome string `json:"outcome"`
	// Details carries sanitized context. Never contains raw secret material.
	Details map[string]any `json:"details,omitempty"`
	// UserAgent of the client, if supplied.
	UserAgent string `json:"user_agent,omitempty"`
	// IPAddress of the client, if supplied.
	IPAddress string `json:"ip_address,omitempty"`
}

// sensitiveKeywords lists substrings that mark a detail key as sensitive.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "key", "token", "credential",
}

// isSensitiveKey reports whether a detail key names sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SanitizeDetails returns a copy of details with sensitive string values
// replaced by a redaction marker that preserves only the original length.
// Applied once, at write time; irreversible.
func SanitizeDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return details
	}
	sanitized := make(map[string]any, len(details))
	for k, v := range details {
		if !isSensitiveKey(k) {
			sanitized[k] = v
			continue
		}
		switch s := v.(type) {
		case string:
			sanitized[k] = fmt.Sprintf("[REDACTED:%dchars]", len(s))
		default:
			sanitized[k] = "[REDACTED]"
		}
	}
	return sanitized
}

// Stats aggregates security statistics over a time window.
type Stats struct {
	TotalEvents           int `json:"total_events"`
	AuthSuccesses         int `json:"auth_successes"`
	AuthFailures          int `json:"auth_failures"`
	AuthorizationFailures int `json:"authorization_failures"`
	UniqueUsers           int `json:"unique_users"`
	UniqueSessions        int `json:"unique_sessions"`
}
