// Package wallet is a local key wallet. It holds a fixed set of private keys,
// tracks which one is connected and signs transactions for it.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/pkg/logger"
)

// Wallet implements chain.AccountProvider over in-memory keys.
type Wallet struct {
	chainID *big.Int
	order   []chain.Identity
	keys    map[chain.Identity]*ecdsa.PrivateKey

	mu        sync.RWMutex
	current   chain.Identity
	connected bool

	feed   chain.Feed
	logger logger.Logger
}

var _ chain.AccountProvider = (*Wallet)(nil)

// New loads hex encoded keys (without 0x) for chainID.
func New(chainID int64, hexKeys []string) (*Wallet, error) {
	w := &Wallet{
		chainID: big.NewInt(chainID),
		keys:    make(map[chain.Identity]*ecdsa.PrivateKey, len(hexKeys)),
		logger:  logger.Get().Named("wallet"),
	}
	for i, hk := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hk, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: key %d: %w", ErrInvalidKey, i, err)
		}
		id := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := w.keys[id]; dup {
			continue
		}
		w.keys[id] = key
		w.order = append(w.order, id)
	}
	return w, nil
}

// Accounts lists the held addresses in configuration order.
func (w *Wallet) Accounts() []chain.Identity {
	out := make([]chain.Identity, len(w.order))
	copy(out, w.order)
	return out
}

// Connect makes address the connected identity. An empty address selects the
// first account. Reconnecting the current identity is a no-op.
func (w *Wallet) Connect(ctx context.Context, address string) (chain.Identity, error) {
	id, err := w.resolve(address)
	if err != nil {
		return chain.Identity{}, err
	}

	w.mu.Lock()
	if w.connected && w.current == id {
		w.mu.Unlock()
		return id, nil
	}
	w.current, w.connected = id, true
	w.mu.Unlock()

	w.logger.Info(ctx, "wallet connected", logger.String("identity", id.Hex()))
	w.feed.Publish(chain.AccountEvent{Identity: id, Connected: true})
	return id, nil
}

// Disconnect drops the connected identity, if any.
func (w *Wallet) Disconnect() {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return
	}
	id := w.current
	w.current, w.connected = chain.Identity{}, false
	w.mu.Unlock()

	w.logger.Info(context.Background(), "wallet disconnected", logger.String("identity", id.Hex()))
	w.feed.Publish(chain.AccountEvent{})
}

// Current returns the connected identity.
func (w *Wallet) Current() (chain.Identity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.connected
}

// Subscribe delivers connection changes until cancel is called.
func (w *Wallet) Subscribe() (<-chan chain.AccountEvent, func()) {
	return w.feed.Subscribe()
}

// TransactOpts returns signing options for from. Only the connected identity
// may sign; anything else is reported as a rejected signature.
func (w *Wallet) TransactOpts(ctx context.Context, from chain.Identity) (*bind.TransactOpts, error) {
	cur, ok := w.Current()
	if !ok || cur != from {
		return nil, fmt.Errorf("%w: %s is not connected", chain.ErrRejected, from.Hex())
	}
	key := w.keys[from]
	opts, err := bind.NewKeyedTransactorWithChainID(key, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chain.ErrRejected, err)
	}
	opts.Context = ctx
	return opts, nil
}

func (w *Wallet) resolve(address string) (chain.Identity, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		if len(w.order) == 0 {
			return chain.Identity{}, ErrNoAccounts
		}
		return w.order[0], nil
	}
	if !common.IsHexAddress(address) {
		return chain.Identity{}, fmt.Errorf("%w: %q", ErrUnknownAccount, address)
	}
	id := common.HexToAddress(address)
	if _, ok := w.keys[id]; !ok {
		return chain.Identity{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id.Hex())
	}
	return id, nil
}
