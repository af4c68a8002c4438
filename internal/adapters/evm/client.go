// Package evm implements the contract read and write services over a
// go-ethereum RPC backend.
package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/pkg/logger"
	"github.com/okian/popkomodo/pkg/metrics"
)

// Backend is the RPC surface the client needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer provides signing options for the connected identity.
type Signer interface {
	TransactOpts(ctx context.Context, from chain.Identity) (*bind.TransactOpts, error)
}

// Client is a chain.Reader and chain.Writer for contracts described by chain.ABI.
type Client struct {
	backend Backend
	signer  Signer
	abi     abi.ABI
	opts    options
	close   func()
}

var (
	_ chain.Reader = (*Client)(nil)
	_ chain.Writer = (*Client)(nil)
)

// New wraps an existing backend.
func New(backend Backend, signer Signer, opts ...Option) (*Client, error) {
	if backend == nil || signer == nil {
		return nil, errors.New("evm: backend and signer are required")
	}
	parsed, err := abi.JSON(strings.NewReader(chain.ABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}
	o := options{readTimeout: defaultReadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("evm")
	}
	return &Client{backend: backend, signer: signer, abi: parsed, opts: o, close: func() {}}, nil
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, signer Signer, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	c, err := New(ec, signer, opts...)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.close = ec.Close
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() { c.close() }

func (c *Client) bound(contract chain.Address) *bind.BoundContract {
	return bind.NewBoundContract(contract, c.abi, c.backend, c.backend, c.backend)
}

// Read performs an eth_call and returns the unpacked outputs.
func (c *Client) Read(ctx context.Context, contract chain.Address, method string, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.readTimeout)
	defer cancel()

	var out []any
	if err := c.bound(contract).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("evm: call %s: %w", method, err)
	}
	return out, nil
}

// Write signs and sends a transaction from the given identity.
func (c *Client) Write(ctx context.Context, contract chain.Address, from chain.Identity, method string, args ...any) (chain.TxHandle, error) {
	opts, err := c.signer.TransactOpts(ctx, from)
	if err != nil {
		metrics.RecordWrite(method, metrics.ResultRejected)
		return chain.TxHandle{}, err
	}
	tx, err := c.bound(contract).Transact(opts, method, args...)
	if err != nil {
		kind, result := chain.ErrRejected, metrics.ResultRejected
		if isRevert(err) {
			kind, result = chain.ErrReverted, metrics.ResultReverted
		}
		metrics.RecordWrite(method, result)
		return chain.TxHandle{}, fmt.Errorf("%w: %s: %w", kind, method, err)
	}
	metrics.RecordWrite(method, metrics.ResultSuccess)
	c.opts.logger.Debug(ctx, "transaction sent",
		logger.String("method", method),
		logger.String("hash", tx.Hash().Hex()),
		logger.String("from", from.Hex()))
	return chain.TxHandle{Hash: tx.Hash(), Tx: tx}, nil
}

// AwaitConfirmation blocks until tx is mined and fails if it reverted.
func (c *Client) AwaitConfirmation(ctx context.Context, tx chain.TxHandle) error {
	if tx.Tx == nil {
		return fmt.Errorf("%w: no transaction for %s", chain.ErrConfirmation, tx.Hash.Hex())
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx.Tx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", chain.ErrConfirmation, tx.Hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s in block %s", chain.ErrReverted, tx.Hash.Hex(), receipt.BlockNumber)
	}
	return nil
}

func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}
