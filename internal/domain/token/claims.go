// Package token validates bearer tokens: structure, signature, and claims.
package token

import (
	"time"
)

// DefaultRole is assigned when a token carries no role claim.
const DefaultRole = "authenticated"

// Claims holds the validated claims of a bearer token. Ephemeral; derived
// once per request and discarded with it.
type Claims struct {
	// Subject is the user identifier (sub). Always present after validation.
	Subject string
	// Audience is the intended audience (aud), normalized to a list.
	Audience []string
	// Issuer identifies the token minter (iss). Always present after validation.
	Issuer string
	// IssuedAt is when the token was minted (iat). Zero if absent.
	IssuedAt time.Time
	// ExpiresAt is the expiry instant (exp). Zero if absent.
	ExpiresAt time.Time
	// Roles merges the singular role claim and the plural roles claim,
	// de-duplicated in claim order. Defaults to [DefaultRole] when the
	// token names no role.
	Roles []string
	// Permissions are explicit "action:resource" grants, passed through
	// unchanged. Empty if absent.
	Permissions []string
}

// MatchesAudience reports whether the token was minted for the required
// audience. Used for resource-scoped audience checks distinct from the
// general policy check.
func (c *Claims) MatchesAudience(required string) bool {
	return AudienceContains(c.Audience, required)
}

// AudienceContains reports whether required appears in the audience list.
// The aud claim may arrive as a single string or an array; callers are
// expected to have normalized it to a list first.
func AudienceContains(audience []string, required string) bool {
	for _, a := range audience {
		if a == required {
			return true
		}
	}
	return false
}

// mergeRoles combines the singular and plural role claims, preserving
// claim order and dropping duplicates.
func mergeRoles(role string, roles []string) []string {
	merged := make([]string, 0, len(roles)+1)
	seen := make(map[string]struct{}, len(roles)+1)
	add := func(r string) {
		if r == "" {
			return
		}
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		merged = append(merged, r)
	}
	add(role)
	for _, r := range roles {
		add(r)
	}
	if len(merged) == 0 {
		merged = append(merged, DefaultRole)
	}
	return merged
}
