// Package chaintest provides scriptable in-memory chain capabilities for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okian/popkomodo/internal/chain"
	"github.com/okian/popkomodo/internal/domain/team"
)

// Call records one write received by the Backend.
type Call struct {
	From   chain.Identity
	Method string
	Args   []any
	Hash   common.Hash
}

// Backend is an in-memory Reader and Writer that applies chooseTeam and
// popBy on confirmation the way the game contract does.
type Backend struct {
	mu sync.Mutex

	teams  map[chain.Identity]team.Assignment
	scores team.Scores

	reads   map[string]int
	writes  []Call
	pending map[common.Hash]Call
	nonce   uint64

	readErr    map[string]error
	writeErr   map[string]error
	confirmErr error

	readGate    chan struct{}
	confirmGate chan struct{}

	submitted chan Call
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		teams:     make(map[chain.Identity]team.Assignment),
		reads:     make(map[string]int),
		pending:   make(map[common.Hash]Call),
		readErr:   make(map[string]error),
		writeErr:  make(map[string]error),
		submitted: make(chan Call, 64),
	}
}

// SetTeam assigns who to id as if chooseTeam had been confirmed earlier.
func (b *Backend) SetTeam(who chain.Identity, id team.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teams[who] = team.Assignment{Chosen: true, Team: id}
}

// ClearTeam drops the assignment of who, as a node that lags behind would
// report it.
func (b *Backend) ClearTeam(who chain.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.teams, who)
}

// SetScores overwrites the counters.
func (b *Backend) SetScores(s team.Scores) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores = s
}

// Scores returns the counters.
func (b *Backend) Scores() team.Scores {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scores
}

// FailReads makes reads of method fail with err; nil restores them.
func (b *Backend) FailReads(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.readErr, method)
		return
	}
	b.readErr[method] = err
}

// RejectWrites makes writes of method fail with err; nil restores them.
func (b *Backend) RejectWrites(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.writeErr, method)
		return
	}
	b.writeErr[method] = err
}

// FailConfirmations makes every confirmation wait fail with err; nil restores it.
func (b *Backend) FailConfirmations(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmErr = err
}

// HoldConfirmations blocks confirmation waits until release is called.
func (b *Backend) HoldConfirmations() (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.confirmGate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.confirmGate == gate {
				b.confirmGate = nil
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// HoldReads blocks reads until release is called.
func (b *Backend) HoldReads() (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.readGate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.readGate == gate {
				b.readGate = nil
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Reads returns how many reads of method were issued.
func (b *Backend) Reads(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads[method]
}

// Writes returns every write received so far.
func (b *Backend) Writes() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.writes...)
}

// WriteCount returns how many writes of method were received.
func (b *Backend) WriteCount(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.writes {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Submitted delivers every accepted write as it arrives.
func (b *Backend) Submitted() <-chan Call { return b.submitted }

// Read implements chain.Reader.
func (b *Backend) Read(ctx context.Context, _ chain.Address, method string, args ...any) ([]any, error) {
	b.mu.Lock()
	b.reads[method]++
	gate := b.readGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.readErr[method]; err != nil {
		return nil, err
	}
	switch method {
	case chain.MethodGetTeam:
		if len(args) != 1 {
			return nil, fmt.Errorf("getTeam takes 1 argument, got %d", len(args))
		}
		who, ok := args[0].(chain.Identity)
		if !ok {
			return nil, fmt.Errorf("getTeam argument is %T", args[0])
		}
		a := b.teams[who]
		return []any{a.Chosen, new(big.Int).SetUint64(uint64(a.Team))}, nil
	case chain.MethodGetScores:
		return []any{
			new(big.Int).SetUint64(b.scores[0]),
			new(big.Int).SetUint64(b.scores[1]),
			new(big.Int).SetUint64(b.scores[2]),
		}, nil
	default:
		return nil, fmt.Errorf("unknown read method %q", method)
	}
}

// Write implements chain.Writer.
func (b *Backend) Write(_ context.Context, _ chain.Address, from chain.Identity, method string, args ...any) (chain.TxHandle, error) {
	b.mu.Lock()
	if err := b.writeErr[method]; err != nil {
		b.mu.Unlock()
		return chain.TxHandle{}, err
	}
	b.nonce++
	call := Call{
		From:   from,
		Method: method,
		Args:   args,
		Hash:   common.BigToHash(new(big.Int).SetUint64(b.nonce)),
	}
	b.writes = append(b.writes, call)
	b.pending[call.Hash] = call
	b.mu.Unlock()

	select {
	case b.submitted <- call:
	default:
	}
	return chain.TxHandle{Hash: call.Hash}, nil
}

// AwaitConfirmation implements chain.Writer. The write takes effect here.
func (b *Backend) AwaitConfirmation(ctx context.Context, tx chain.TxHandle) error {
	b.mu.Lock()
	gate := b.confirmGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", chain.ErrConfirmation, ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	call, ok := b.pending[tx.Hash]
	if !ok {
		return fmt.Errorf("%w: unknown transaction %s", chain.ErrConfirmation, tx.Hash)
	}
	delete(b.pending, tx.Hash)
	if b.confirmErr != nil {
		return b.confirmErr
	}
	return b.apply(call)
}

func (b *Backend) apply(call Call) error {
	arg := func() (uint64, error) {
		if len(call.Args) != 1 {
			return 0, fmt.Errorf("%w: %s takes 1 argument", chain.ErrReverted, call.Method)
		}
		n, ok := call.Args[0].(*big.Int)
		if !ok || !n.IsUint64() {
			return 0, fmt.Errorf("%w: %s argument %v", chain.ErrReverted, call.Method, call.Args[0])
		}
		return n.Uint64(), nil
	}

	switch call.Method {
	case chain.MethodChooseTeam:
		id, err := arg()
		if err != nil {
			return err
		}
		if id >= team.Count {
			return fmt.Errorf("%w: bad team", chain.ErrReverted)
		}
		if b.teams[call.From].Chosen {
			return fmt.Errorf("%w: already chose", chain.ErrReverted)
		}
		b.teams[call.From] = team.Assignment{Chosen: true, Team: team.ID(id)}
	case chain.MethodPopBy:
		amount, err := arg()
		if err != nil {
			return err
		}
		a := b.teams[call.From]
		if !a.Chosen {
			return fmt.Errorf("%w: no team", chain.ErrReverted)
		}
		if amount == 0 {
			return fmt.Errorf("%w: zero amount", chain.ErrReverted)
		}
		b.scores[a.Team] += amount
	default:
		return fmt.Errorf("%w: unknown method %q", chain.ErrReverted, call.Method)
	}
	return nil
}

// Accounts is an AccountProvider driven directly by tests.
type Accounts struct {
	feed chain.Feed

	mu        sync.Mutex
	identity  chain.Identity
	connected bool
}

// Connect switches the connected identity to id.
func (a *Accounts) Connect(id chain.Identity) {
	a.mu.Lock()
	a.identity, a.connected = id, true
	a.mu.Unlock()
	a.feed.Publish(chain.AccountEvent{Identity: id, Connected: true})
}

// Disconnect drops the connected identity.
func (a *Accounts) Disconnect() {
	a.mu.Lock()
	a.identity, a.connected = chain.Identity{}, false
	a.mu.Unlock()
	a.feed.Publish(chain.AccountEvent{})
}

// Current implements chain.AccountProvider.
func (a *Accounts) Current() (chain.Identity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity, a.connected
}

// Subscribe implements chain.AccountProvider.
func (a *Accounts) Subscribe() (<-chan chain.AccountEvent, func()) {
	return a.feed.Subscribe()
}
