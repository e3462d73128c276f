// Package handoff owns the lifecycle of a delegation from the conversation to
// an external workflow engine: a small monotonic state machine, a bounded
// in-memory record store, fallback resolution, and the webhook call itself.
package handoff

import (
	"errors"
	"fmt"
	"time"
)

// State is a handoff lifecycle state. Transitions only move forward.
type State string

const (
	StateRequested         State = "REQUESTED"
	StateResolving         State = "RESOLVING"
	StateExecuting         State = "EXECUTING"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
	StateFallbackCompleted State = "FALLBACK_COMPLETED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateFallbackCompleted:
		return true
	}
	return false
}

var allowedTransitions = map[State][]State{
	StateRequested: {StateResolving, StateFailed},
	StateResolving: {StateExecuting, StateFailed},
	StateExecuting: {StateCompleted, StateFallbackCompleted, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Failure reasons recorded on FAILED records.
const (
	ReasonNoWorkflowAvailable = "no_workflow_available"
	ReasonExternalCallTimeout = "external_call_timeout"
	ReasonExternalCallError   = "external_call_error"
	ReasonCatalogUnavailable  = "catalog_unavailable"
	ReasonSuperseded          = "superseded"
)

// Record is the full audit trail of one handoff.
type Record struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"session_id"`
	TargetCategory string                 `json:"target_category"`
	WorkflowID     string                 `json:"workflow_id,omitempty"`
	WorkflowName   string                 `json:"workflow_name,omitempty"`
	State          State                  `json:"state"`
	Reason         string                 `json:"reason,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	UsedFallback   bool                   `json:"used_fallback"`
	ResolvedVia    []string               `json:"resolved_via,omitempty"`
	CorrelationID  string                 `json:"correlation_id"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

var (
	// ErrNoWorkflowAvailable means neither the target category nor its
	// fallback chain has an active workflow.
	ErrNoWorkflowAvailable = errors.New("no workflow available for category")

	// ErrExternalCallTimeout means the webhook did not answer within the
	// configured deadline.
	ErrExternalCallTimeout = errors.New("external workflow call timed out")

	// ErrExternalCallError means the webhook answered with a non-success
	// status or an unusable body.
	ErrExternalCallError = errors.New("external workflow call failed")

	// ErrRecordNotFound means the requested handoff id is unknown or has
	// aged out of the retention window.
	ErrRecordNotFound = errors.New("handoff record not found")

	// ErrInvalidTransition guards the state machine against regressions.
	ErrInvalidTransition = errors.New("invalid handoff state transition")
)

// DuplicateHandoffError rejects a second handoff for a session that already
// has one in flight.
type DuplicateHandoffError struct {
	SessionID string
	ActiveID  string
}

func (e *DuplicateHandoffError) Error() string {
	return fmt.Sprintf("session %s already has handoff %s in progress", e.SessionID, e.ActiveID)
}
