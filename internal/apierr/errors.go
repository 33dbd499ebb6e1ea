// Package apierr defines the error taxonomy shared by the HTTP layer and
// the task coordination core. Every user-visible failure maps to exactly
// one of these types; anything else surfaces as a 500.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError rejects a request before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validation builds a field-scoped validation error.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown task, agent or workspace.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for the given entity kind and id.
func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports an orchestrator collision. ConflictingAgents lists
// the other master agents that are not offline so the caller can react.
type ConflictError struct {
	Reason            string
	ConflictingAgents []string
}

func (e *ConflictError) Error() string {
	if len(e.ConflictingAgents) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (conflicting agents: %s)", e.Reason, strings.Join(e.ConflictingAgents, ", "))
}

// AuthorizationError rejects a transition the acting agent may not perform.
type AuthorizationError struct {
	AgentID string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.AgentID, e.Reason)
}

// GatewayUnavailableError means the transport connect failed before any
// call was made. No task state was mutated.
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// DispatchCallError means the transport connected but the call itself
// failed. No task state was mutated.
type DispatchCallError struct {
	Err error
}

func (e *DispatchCallError) Error() string {
	return fmt.Sprintf("dispatch call failed: %v", e.Err)
}

func (e *DispatchCallError) Unwrap() error { return e.Err }

// Status maps an error to its HTTP status code.
func Status(err error) int {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		ae *AuthorizationError
		ge *GatewayUnavailableError
		de *DispatchCallError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &ae):
		return http.StatusForbidden
	case errors.As(err, &ge):
		return http.StatusServiceUnavailable
	case errors.As(err, &de):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
