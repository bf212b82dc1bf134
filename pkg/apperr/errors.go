// Package apperr defines the application error taxonomy shared by all
// request-handling packages. Errors are classified once, at the place they
// occur, and mapped to HTTP responses exactly once at the outer boundary
// (httputil.WriteAppError). No package below the boundary writes HTTP-shaped
// responses itself.
package apperr

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

// AuthError indicates a missing, invalid, expired or revoked session.
// Maps to 401.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

// NewAuthError creates an AuthError with a reason.
func NewAuthError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

// PermissionError indicates an authenticated caller without the required
// permission. Maps to 403.
type PermissionError struct {
	Permission string
	Role       string
}

func (e *PermissionError) Error() string {
	if e.Permission == "" {
		return "permission denied"
	}
	return fmt.Sprintf("permission denied: role %q lacks %q", e.Role, e.Permission)
}

// NewPermissionError creates a PermissionError naming the missing permission.
func NewPermissionError(role, permission string) *PermissionError {
	return &PermissionError{Role: role, Permission: permission}
}

// ValidationError indicates a malformed request. Maps to 400 with
// field-level detail.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Detail
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Detail)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, detail string) *ValidationError {
	return &ValidationError{Field: field, Detail: detail}
}

// WorkflowError indicates an illegal state transition, e.g. approving an
// already-approved request. Maps to 422 and carries both states.
type WorkflowError struct {
	Entity    string
	Current   string
	Requested string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Entity, e.Current, e.Requested)
}

// NewWorkflowError creates a WorkflowError for an entity transition.
func NewWorkflowError(entity, current, requested string) *WorkflowError {
	return &WorkflowError{Entity: entity, Current: current, Requested: requested}
}

// ConflictError indicates an optimistic-concurrency loss: the caller's
// last-known timestamp is older than the server's current row. Maps to 409.
// A Conflict record is persisted alongside; the error itself is per-action.
type ConflictError struct {
	EntityType string
	EntityID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s was modified concurrently", e.EntityType, e.EntityID)
}

// NewConflictError creates a ConflictError for an entity.
func NewConflictError(entityType, entityID string) *ConflictError {
	return &ConflictError{EntityType: entityType, EntityID: entityID}
}

// TransportError indicates the channel itself broke (database connection
// lost, network failure) rather than a single bad action. A sync push batch
// stops processing on a TransportError and returns partial results.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a channel-level failure.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is a channel-level failure: either an
// explicit TransportError or a connectivity error class from the driver or
// the network stack. This is a typed check, never a message match.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// NotFoundError indicates a missing entity. Maps to 404.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}
