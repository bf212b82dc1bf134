// Package middleware provides the HTTP middleware chain: session
// authentication and per-caller rate limiting, both in-memory and
// Redis-backed for multi-instance deployments.
package middleware
