/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All engine errors in one place. Validation errors are rejected before any
  write and are never partially applied. Not-found is reported uniformly for
  missing and cross-tenant rows so existence never leaks across tenants.

ERROR CATEGORIES:
  1. Validation errors - structural violations in a proposed trade
  2. Not-found - missing or cross-tenant rows, indistinguishable on purpose
  3. Catalog conflicts - uniqueness violations on reference data

Valuation-unknown is NOT an error; see Value in types.go.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrInvalidParty is returned when a line side does not resolve to
	// exactly one party (user XOR location, header defaults included), or
	// names a location that does not exist in the caller's tenant.
	ErrInvalidParty = errors.New("invalid party")

	// ErrCrossTenantUser is returned when a line references a user that is
	// not a member of the calling tenant.
	ErrCrossTenantUser = errors.New("user not in tenant")

	// ErrInvalidReason is returned when a movement reason code does not
	// exist or is inactive for the calling tenant.
	ErrInvalidReason = errors.New("invalid movement reason")

	// ErrExternalBoundary is returned when a line would move items directly
	// between an external location and a user. External locations trade
	// only with internal locations.
	ErrExternalBoundary = errors.New("external location cannot trade with a user")

	// ErrInvalidQuantity is returned when a line quantity is not positive
	// or its direction label is unrecognized.
	ErrInvalidQuantity = errors.New("invalid quantity or direction")

	// ErrNotFound is returned for rows that do not exist in the caller's
	// tenant. Cross-tenant rows report the same error.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateValuation is returned when a valuation already exists for
	// the same (tenant, item, effective_from).
	ErrDuplicateValuation = errors.New("duplicate valuation")

	// ErrDuplicateExternalLocation is returned when a tenant would end up
	// with two active external locations of the same kind.
	ErrDuplicateExternalLocation = errors.New("tenant already has an active external location of this kind")

	// ErrValueOutOfRange is returned when a recorded valuation falls
	// outside the allowed currency range.
	ErrValueOutOfRange = errors.New("valuation out of allowed range")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LineError reports which proposed line, and which side of it, failed
// validation. It unwraps to one of the validation sentinels.
type LineError struct {
	Index  int    // zero-based position in the proposal
	Side   string // "from", "to", or "" when the whole line is at fault
	Err    error
	Detail string
}

func (e *LineError) Error() string {
	if e.Side != "" {
		return fmt.Sprintf("line %d (%s): %v: %s", e.Index, e.Side, e.Err, e.Detail)
	}
	return fmt.Sprintf("line %d: %v: %s", e.Index, e.Err, e.Detail)
}

func (e *LineError) Unwrap() error { return e.Err }

// HeaderError reports an invalid trade header field.
type HeaderError struct {
	Field  string
	Err    error
	Detail string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("header %s: %v: %s", e.Field, e.Err, e.Detail)
}

func (e *HeaderError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is a pre-write trade rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidParty) ||
		errors.Is(err, ErrCrossTenantUser) ||
		errors.Is(err, ErrInvalidReason) ||
		errors.Is(err, ErrExternalBoundary) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsConflict returns true for uniqueness violations on reference data.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateValuation) ||
		errors.Is(err, ErrDuplicateExternalLocation)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return IsValidation(err) || IsConflict(err) || errors.Is(err, ErrValueOutOfRange)
}

// IsNotFound returns true if the error indicates a missing (or cross-tenant)
// row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
