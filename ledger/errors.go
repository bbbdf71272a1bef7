package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("ledger: required parameter is nil")

	// ErrNotFound indicates no output exists for the given outpoint.
	ErrNotFound = errors.New("ledger: output not found")

	// ErrAlreadyExists indicates an output with the same outpoint is already tracked.
	ErrAlreadyExists = errors.New("ledger: output already exists")

	// ErrInvalidStateTransition indicates the output's current status does not
	// permit the requested operation.
	ErrInvalidStateTransition = errors.New("ledger: invalid state transition")

	// ErrAlreadyReserved indicates a reservation lost against another caller.
	ErrAlreadyReserved = fmt.Errorf("%w: output is not available", ErrInvalidStateTransition)

	// ErrNoSuitableOutput indicates no Available output satisfies a reservation request.
	ErrNoSuitableOutput = errors.New("ledger: no suitable output")

	// ErrInvalidOutput indicates an output failed validation (bad txid, empty owner, ...).
	ErrInvalidOutput = errors.New("ledger: invalid output")
)

// transitionError reports a rejected compare-and-set with the observed status.
func transitionError(key Outpoint, current Status, to Status) error {
	return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidStateTransition, key, current, to)
}
