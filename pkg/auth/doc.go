// Package auth implements identity: the fixed role/permission table, opaque
// session tokens, the user/session store, and the access guard every request
// passes through.
//
// Authority is never taken from the client. A bearer token resolves to a
// session row joined with the live user row, so role or territory changes
// apply on the very next request and revoking a user invalidates all of
// their sessions atomically.
package auth
