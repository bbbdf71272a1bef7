package network

import "errors"

var (
	// ErrTransport indicates the chain service could not be reached, timed
	// out, or answered with an unexpected non-2xx status.
	ErrTransport = errors.New("network: transport error")

	// ErrAuthFailed indicates authentication (e.g., RPC credentials) was rejected.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrTxNotFound indicates the requested transaction does not exist.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrRejectedByNetwork indicates the network refused a transaction
	// (double spend, malformed, insufficient fee).
	ErrRejectedByNetwork = errors.New("network: transaction rejected")

	// ErrAlreadyInChain indicates a submitted transaction is already mined.
	// A resubmission of a transaction that landed earlier reports this.
	ErrAlreadyInChain = errors.New("network: transaction already in chain")

	// ErrInvalidResponse indicates the service returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrInvalidConfig indicates the client configuration is unusable.
	ErrInvalidConfig = errors.New("network: invalid configuration")
)
