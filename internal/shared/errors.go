package shared

import "errors"

var (
	// ErrNotFound indicates a job, stock item, allocation or requisition is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not valid for the current workflow status.
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden indicates the actor's role does not satisfy the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientStock indicates an allocation or outbound movement would oversell.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrExceedsAllocation indicates a dispatch scan would exceed the reserved quantity.
	ErrExceedsAllocation = errors.New("exceeds allocation")
	// ErrNotAllocated indicates a dispatch scan for an item without allocation.
	ErrNotAllocated = errors.New("not allocated")
	// ErrConflict indicates a duplicate active record.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)
