/*
errors.go - Error types for work-entry operations

PURPOSE:
  All error types in one place. Storage adapters translate driver errors
  into these sentinels so callers never inspect driver types.

ERROR CATEGORIES:
  1. User errors - abort the whole batch (contract binding, interval,
     delete of validated entries, forbidden transitions)
  2. Constraint errors - raised by storage (validated overlap)
  3. Transient errors - retryable storage failures (serialization,
     deadlock, busy database)

CONFLICTS ARE NOT ERRORS:
  Conflict detection marks entries as StateConflict. It never returns a
  domain error; only storage failures propagate from it.

USAGE:
  if errors.Is(err, workentry.ErrValidatedOverlap) { ... }

  var ce *workentry.ContractError
  if errors.As(err, &ce) { log(ce.EmployeeID, ce.Candidates) }

SEE ALSO:
  - coordinator.go: raises these errors
  - store/sqlite, store/postgres: translate driver errors
  - api/handlers.go: maps them to HTTP statuses
*/
package workentry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingContract is returned when no contract version covers an entry.
	ErrMissingContract = errors.New("no contract version covers the entry")

	// ErrAmbiguousContract is returned when several versions cover an entry.
	ErrAmbiguousContract = errors.New("several contract versions cover the entry")

	// ErrValidatedOverlap is returned by storage when a write would make two
	// validated entries of one employee overlap.
	ErrValidatedOverlap = errors.New("validated work entries overlap")

	// ErrDeleteValidated is returned when deleting a validated entry.
	ErrDeleteValidated = errors.New("validated work entries cannot be deleted")

	// ErrInvalidInterval is returned when stop is missing or not after start.
	ErrInvalidInterval = errors.New("invalid interval: stop must be after start")

	// ErrTransientStorage is returned for retryable storage failures.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for state changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ContractError details a failed contract binding. Unwraps to
// ErrMissingContract when Candidates is empty, ErrAmbiguousContract otherwise.
type ContractError struct {
	EmployeeID EmployeeID
	Start      time.Time
	Stop       time.Time
	Candidates []VersionID
}

func (e *ContractError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no contract version of employee %s covers [%s, %s)",
			e.EmployeeID, e.Start.Format(time.RFC3339), e.Stop.Format(time.RFC3339))
	}
	return fmt.Sprintf("contract versions %s of employee %s all cover [%s, %s)",
		joinIDs(e.Candidates), e.EmployeeID, e.Start.Format(time.RFC3339), e.Stop.Format(time.RFC3339))
}

func (e *ContractError) Unwrap() error {
	if len(e.Candidates) == 0 {
		return ErrMissingContract
	}
	return ErrAmbiguousContract
}

// OverlapError details a validated-overlap constraint violation. Storage may
// not know which rows collided; EntryIDs is then empty.
type OverlapError struct {
	EmployeeID EmployeeID
	EntryIDs   []EntryID
	Constraint string
}

func (e *OverlapError) Error() string {
	var b strings.Builder
	b.WriteString("validated work entries overlap")
	if e.EmployeeID != "" {
		fmt.Fprintf(&b, " for employee %s", e.EmployeeID)
	}
	if len(e.EntryIDs) > 0 {
		fmt.Fprintf(&b, " (entries %s)", joinIDs(e.EntryIDs))
	}
	if e.Constraint != "" {
		fmt.Fprintf(&b, " [%s]", e.Constraint)
	}
	return b.String()
}

func (e *OverlapError) Unwrap() error { return ErrValidatedOverlap }

// DeleteValidatedError lists the validated entries that blocked a delete.
type DeleteValidatedError struct {
	EntryIDs []EntryID
}

func (e *DeleteValidatedError) Error() string {
	return fmt.Sprintf("cannot delete validated work entries: %s", joinIDs(e.EntryIDs))
}

func (e *DeleteValidatedError) Unwrap() error { return ErrDeleteValidated }

// IntervalError details a malformed interval.
type IntervalError struct {
	EntryID EntryID
	Start   time.Time
	Stop    time.Time
	Reason  string
}

func (e *IntervalError) Error() string {
	id := string(e.EntryID)
	if id == "" {
		id = "(new)"
	}
	return fmt.Sprintf("invalid interval for entry %s: %s", id, e.Reason)
}

func (e *IntervalError) Unwrap() error { return ErrInvalidInterval }

// TransitionError details a forbidden state change.
type TransitionError struct {
	EntryID EntryID
	From    State
	To      State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("entry %s cannot move from %s to %s", e.EntryID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError names the missing rows.
type NotFoundError struct {
	Kind string
	IDs  []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, strings.Join(e.IDs, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStorage)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingContract) ||
		errors.Is(err, ErrAmbiguousContract) ||
		errors.Is(err, ErrValidatedOverlap) ||
		errors.Is(err, ErrDeleteValidated) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
