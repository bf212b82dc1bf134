// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing. It owns the single
// boundary that translates apperr error types into HTTP responses.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CurrentState  string `json:"current_state,omitempty"`
	RequestedState string `json:"requested_state,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteAppError maps an apperr error type to its HTTP response. Guard-level
// errors (auth/permission) are logged at warn; everything unclassified is a
// 500 carrying only a correlation id, with full context logged at error.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.FromContext(r.Context())

	var authErr *apperr.AuthError
	if errors.As(err, &authErr) {
		log.WithError(err).Warn("request rejected: unauthenticated")
		writeErrorBody(w, http.StatusUnauthorized, ErrorResponse{Error: authErr.Error()})
		return
	}

	var permErr *apperr.PermissionError
	if errors.As(err, &permErr) {
		log.WithError(err).Warn("request rejected: forbidden")
		writeErrorBody(w, http.StatusForbidden, ErrorResponse{Error: permErr.Error()})
		return
	}

	var valErr *apperr.ValidationError
	if errors.As(err, &valErr) {
		writeErrorBody(w, http.StatusBadRequest, ErrorResponse{Error: valErr.Error(), Field: valErr.Field})
		return
	}

	var wfErr *apperr.WorkflowError
	if errors.As(err, &wfErr) {
		writeErrorBody(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:          wfErr.Error(),
			CurrentState:   wfErr.Current,
			RequestedState: wfErr.Requested,
		})
		return
	}

	var cfErr *apperr.ConflictError
	if errors.As(err, &cfErr) {
		writeErrorBody(w, http.StatusConflict, ErrorResponse{Error: cfErr.Error()})
		return
	}

	var nfErr *apperr.NotFoundError
	if errors.As(err, &nfErr) {
		writeErrorBody(w, http.StatusNotFound, ErrorResponse{Error: nfErr.Error()})
		return
	}

	// Unclassified: leak only a correlation id.
	correlationID := uuid.NewString()
	log.WithError(err).WithField("correlation_id", correlationID).Error("internal error")
	writeErrorBody(w, http.StatusInternalServerError, ErrorResponse{
		Error:         "internal error",
		CorrelationID: correlationID,
	})
}

func writeErrorBody(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
