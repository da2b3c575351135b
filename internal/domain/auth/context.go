// Package auth contains the authorization context and error taxonomy
// shared by the token validator, session store, policy engine, and
// middleware.
package auth

import (
	"time"
)

// AnonymousSessionID is the sentinel session identifier for callers that
// present no token. Anonymous contexts never touch the session store.
const AnonymousSessionID = "anonymous"

// Context is the read-only authorization context assembled once per
// authenticated request. It is passed by pointer to the policy engine and
// the audit trail and is never mutated after construction.
type Context struct {
	// UserID identifies the authenticated user. Empty for anonymous callers.
	UserID string
	// SessionID is always present; AnonymousSessionID for unauthenticated callers.
	SessionID string
	// Roles are the role names extracted from the token, in claim order,
	// de-duplicated.
	Roles []string
	// Permissions are explicit "action:resource" grants from the token.
	Permissions []string
	// Authenticated is false only for the anonymous context.
	Authenticated bool

	// Token claim mirrors for downstream audience checks.
	TokenAudience []string
	TokenIssuer   string
	TokenSubject  string
	TokenExpiry   time.Time
}

// HasRole reports whether the context carries the named role.
func (c *Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the context carries any of the named roles.
func (c *Context) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// Anonymous returns the fixed context used when no token is supplied and
// the operation's policy permits anonymous access.
func Anonymous() *Context {
	return &Context{
		SessionID:     AnonymousSessionID,
		Roles:         []string{"anon"},
		Permissions:   nil,
		Authenticated: false,
	}
}
