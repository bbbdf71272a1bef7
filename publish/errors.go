package publish

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds indicates no available output covers the payload fee.
	ErrInsufficientFunds = errors.New("publish: insufficient funds")

	// ErrReservationConflict indicates another caller reserved a selected
	// output first.
	ErrReservationConflict = errors.New("publish: reservation conflict")

	// ErrBuildFailed indicates the transaction could not be assembled or signed.
	ErrBuildFailed = errors.New("publish: build failed")

	// ErrBroadcastFailed indicates the network did not accept the transaction.
	ErrBroadcastFailed = errors.New("publish: broadcast failed")

	// ErrReconcileFailed indicates the transaction was broadcast but the ledger
	// could not record it. The inputs stay Reserved until the sweeper settles them.
	ErrReconcileFailed = errors.New("publish: reconcile failed")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("publish: required parameter is nil")
)

// FailedError reports the stage a run failed in and why.
type FailedError struct {
	Stage Stage
	Err   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("publish failed in %s: %v", e.Stage, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }
