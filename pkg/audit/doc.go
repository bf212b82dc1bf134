// Package audit records who did what to which entity. Mutating operations
// call Record on the shared logger; writes are fire-and-forget through a
// bounded queue so a slow audit table never blocks a request.
package audit
