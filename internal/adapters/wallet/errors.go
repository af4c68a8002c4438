package wallet

import "errors"

var (
	// ErrNoAccounts is returned when the wallet holds no keys.
	ErrNoAccounts = errors.New("wallet has no accounts")
	// ErrUnknownAccount is returned for an address the wallet holds no key for.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrInvalidKey is returned by New for a malformed private key.
	ErrInvalidKey = errors.New("invalid private key")
)
