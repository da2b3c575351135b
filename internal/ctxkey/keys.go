// Package ctxkey defines shared context key types used across multiple
// packages. It must not depend on other internal packages to avoid
// import cycles.
package ctxkey

// RequestIDKey is the context key type for the per-request identifier the
// transport attaches before dispatch.
type RequestIDKey struct{}
