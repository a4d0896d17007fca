/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - invalid plans, teams, thresholds (write time)
  2. Reference errors - a record points at something that does not exist
  3. Store errors - missing rows, unsupported capabilities

WHAT IS NOT AN ERROR:
  Data-quality problems in transaction records (no plan assigned, bad dates,
  non-numeric amounts) never surface here. The calculator degrades and
  annotates the affected breakdown instead.

USAGE:
  if errors.Is(err, generic.ErrPlanNotFound) {
      // 404
  }

SEE ALSO:
  - commission/store.go: ConfigStore contract
  - api/handlers.go: maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPlanNotFound is returned when a referenced commission plan doesn't exist.
	ErrPlanNotFound = errors.New("commission plan not found")

	// ErrTeamNotFound is returned when a referenced team doesn't exist.
	ErrTeamNotFound = errors.New("team not found")

	// ErrAssignmentNotFound is returned when an agent has no assignment record.
	ErrAssignmentNotFound = errors.New("agent assignment not found")

	// ErrAlertNotFound is returned when a variance alert id is unknown.
	ErrAlertNotFound = errors.New("variance alert not found")

	// ErrInvalidConfig is returned when plan/team/assignment values are out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidThresholds is returned when variance thresholds are inconsistent.
	ErrInvalidThresholds = errors.New("invalid variance thresholds")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PlanReferenceError reports an assignment whose plan or team id cannot be
// resolved. "Agent has no plan" is a normal state; this is caller misuse.
type PlanReferenceError struct {
	AgentName string
	PlanID    string
	TeamID    string
	Missing   error // ErrPlanNotFound or ErrTeamNotFound
}

func (e *PlanReferenceError) Error() string {
	if errors.Is(e.Missing, ErrTeamNotFound) {
		return fmt.Sprintf("assignment for %q references unknown team %q", e.AgentName, e.TeamID)
	}
	return fmt.Sprintf("assignment for %q references unknown plan %q", e.AgentName, e.PlanID)
}

func (e *PlanReferenceError) Unwrap() error {
	if e.Missing == nil {
		return ErrPlanNotFound
	}
	return e.Missing
}

// FieldError is a single invalid configuration field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects field failures for one configuration object.
type ValidationError struct {
	Object string // "plan", "team", "assignment", "thresholds"
	ID     string
	Fields []FieldError
	Kind   error // ErrInvalidConfig or ErrInvalidThresholds
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	if e.ID != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Object, e.ID, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("invalid %s: %s", e.Object, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrInvalidConfig
	}
	return e.Kind
}

// Add appends a field failure.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidThresholds) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrTeamNotFound) ||
		errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrAlertNotFound)
}
