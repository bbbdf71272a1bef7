package wallet

import "errors"

var (
	// ErrInvalidNetwork indicates unknown network name with no custom config.
	ErrInvalidNetwork = errors.New("wallet: invalid network name")

	// ErrInvalidKeyFile indicates the wallet file is unreadable or malformed.
	ErrInvalidKeyFile = errors.New("wallet: invalid key file")

	// ErrKeyMismatch indicates the public key or address in a wallet file
	// does not belong to its private key.
	ErrKeyMismatch = errors.New("wallet: key material does not match")
)
