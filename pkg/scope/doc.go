// Package scope implements the territorial scoping engine: the declarative
// query predicate constraining which records a caller may touch, and the
// territory hierarchy resolver expanding an assignment into its descendant
// closure.
//
// Filters are ephemeral; they are derived per request from the caller's live
// user row and never persisted. Construction is pure, so the same inputs
// always yield the same predicate.
package scope
