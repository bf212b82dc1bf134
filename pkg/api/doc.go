// Package api assembles the HTTP server: the middleware chain, every handler
// group, and the small endpoints that belong to no other package (territory
// administration and audit log search).
package api
