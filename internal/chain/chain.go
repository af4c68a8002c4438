// Package chain declares the capabilities the session controller consumes:
// an account provider, a read service and a write service. Wallet UI,
// transport, signing and the contract itself live behind these interfaces.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Address is a contract address.
type Address = common.Address

// Identity is the address of the connected wallet.
type Identity = common.Address

// Sentinel error kinds. Write and confirmation failures are classified into
// one of these so callers can tell a declined signature from a revert.
var (
	ErrRejected     = errors.New("transaction rejected")
	ErrReverted     = errors.New("transaction reverted")
	ErrConfirmation = errors.New("confirmation failed")
	ErrDecode       = errors.New("unexpected contract result")
)

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash common.Hash
	// Tx is set by backends that need the signed transaction to wait on it.
	Tx *types.Transaction
}

// AccountEvent is pushed whenever the connected identity changes.
type AccountEvent struct {
	Identity  Identity
	Connected bool
}

// AccountProvider exposes the wallet connection.
type AccountProvider interface {
	// Current returns the connected identity, if any.
	Current() (Identity, bool)
	// Subscribe delivers connection changes until cancel is called.
	Subscribe() (events <-chan AccountEvent, cancel func())
}

// Reader issues read-only contract calls.
type Reader interface {
	Read(ctx context.Context, contract Address, method string, args ...any) ([]any, error)
}

// Writer submits state-changing contract calls and waits for them.
type Writer interface {
	Write(ctx context.Context, contract Address, from Identity, method string, args ...any) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, tx TxHandle) error
}
