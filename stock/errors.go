/*
errors.go - Error taxonomy for the stock ledger

PURPOSE:
  All error types in one place. Every failure returned by the engine maps to
  exactly one ErrorKind so callers (the HTTP layer, tests) can decide what to
  do without string matching.

ERROR KINDS:
  validation_error     Malformed or missing input; caller fixes the input
  not_found            Referenced product or sale does not exist
  invariant_violation  Operation would make stock negative
  transient_failure    Lock wait or CAS retries exhausted; safe to retry
  internal_error       Storage or unexpected fault

USAGE:
  entry, err := ledger.RecordLoss(ctx, m)
  var short *stock.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Printf("only %d left\n", short.Available)
  }
  if stock.IsRetryable(err) {
      // try the whole operation again
  }

SEE ALSO:
  - api/handlers.go: Maps ErrorKind to HTTP status
*/
package stock

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrTransientFailure   = errors.New("transient failure")
	ErrInternal           = errors.New("internal error")

	// ErrConcurrentModification is returned by a store when a compare-and-set
	// stock write finds a different stock value than the one it read.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindNotFound   ErrorKind = "not_found"
	KindInvariant  ErrorKind = "invariant_violation"
	KindTransient  ErrorKind = "transient_failure"
	KindInternal   ErrorKind = "internal_error"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError is one rejected input field. Field uses request paths such as
// "quantity" or "items[1].product".
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every field problem found in one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation error: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field problems were recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NotFoundError names the missing resource. Line is the sale line index the
// reference came from, or -1.
type NotFoundError struct {
	Resource string
	ID       string
	Line     int
}

func (e *NotFoundError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%s %s not found (line %d)", e.Resource, e.ID, e.Line+1)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func productNotFound(id ProductID, line int) *NotFoundError {
	return &NotFoundError{Resource: "product", ID: string(id), Line: line}
}

// InsufficientStockError is the business-rule rejection for a change that
// would take stock below zero.
type InsufficientStockError struct {
	ProductID   ProductID
	ProductName string
	Operation   string // "sale", "adjustment", "loss"
	Available   int
	Requested   int
	Line        int
}

func (e *InsufficientStockError) Error() string {
	if e.Operation == "sale" {
		return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
			e.ProductName, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.Operation, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInvariantViolation }

// TransientError reports contention that outlasted the retry budget.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransientFailure, e.Cause} }

// InternalError wraps storage and other unexpected faults.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error { return []error{ErrInternal, e.Err} }

// classify passes taxonomy errors through and wraps anything else as internal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal || errors.Is(err, ErrInternal) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf maps an error to its kind. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	case errors.Is(err, ErrTransientFailure):
		return KindTransient
	default:
		return KindInternal
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}

// IsClientError returns true if the error is due to the caller's input or a
// business-rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvariantViolation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
