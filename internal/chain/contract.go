package chain

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/okian/popkomodo/internal/domain/team"
)

// Contract method names.
const (
	MethodGetTeam    = "getTeam"
	MethodGetScores  = "getScores"
	MethodChooseTeam = "chooseTeam"
	MethodPopBy      = "popBy"
)

// ABI is the JSON ABI of the game contract.
//
//go:embed popkomodo.abi.json
var ABI string

// Contract is a typed binding of the game contract over a Reader and Writer.
type Contract struct {
	address Address
	reader  Reader
	writer  Writer
}

// NewContract binds the contract at address.
func NewContract(address Address, reader Reader, writer Writer) *Contract {
	return &Contract{address: address, reader: reader, writer: writer}
}

// Address returns the bound contract address.
func (c *Contract) Address() Address { return c.address }

// GetTeam reads the team assignment of who.
func (c *Contract) GetTeam(ctx context.Context, who Identity) (team.Assignment, error) {
	out, err := c.reader.Read(ctx, c.address, MethodGetTeam, who)
	if err != nil {
		return team.Assignment{}, err
	}
	if len(out) != 2 {
		return team.Assignment{}, fmt.Errorf("%w: %s returned %d values", ErrDecode, MethodGetTeam, len(out))
	}
	chosen, ok := out[0].(bool)
	if !ok {
		return team.Assignment{}, fmt.Errorf("%w: %s chosen is %T", ErrDecode, MethodGetTeam, out[0])
	}
	id, err := toUint64(out[1])
	if err != nil {
		return team.Assignment{}, fmt.Errorf("%s team: %w", MethodGetTeam, err)
	}
	if !chosen {
		return team.Assignment{}, nil
	}
	if id >= team.Count {
		return team.Assignment{}, fmt.Errorf("%w: %s team %d", ErrDecode, MethodGetTeam, id)
	}
	return team.Assignment{Chosen: true, Team: team.ID(id)}, nil
}

// GetScores reads the three team counters.
func (c *Contract) GetScores(ctx context.Context) (team.Scores, error) {
	var s team.Scores
	out, err := c.reader.Read(ctx, c.address, MethodGetScores)
	if err != nil {
		return s, err
	}
	if len(out) != team.Count {
		return s, fmt.Errorf("%w: %s returned %d values", ErrDecode, MethodGetScores, len(out))
	}
	for i, v := range out {
		n, err := toUint64(v)
		if err != nil {
			return team.Scores{}, fmt.Errorf("%s[%d]: %w", MethodGetScores, i, err)
		}
		s[i] = n
	}
	return s, nil
}

// ChooseTeam submits chooseTeam(id) from the given identity.
func (c *Contract) ChooseTeam(ctx context.Context, from Identity, id team.ID) (TxHandle, error) {
	if !id.Valid() {
		return TxHandle{}, fmt.Errorf("%w: %d", team.ErrInvalid, id)
	}
	return c.writer.Write(ctx, c.address, from, MethodChooseTeam, new(big.Int).SetUint64(uint64(id)))
}

// PopBy submits popBy(amount) from the given identity.
func (c *Contract) PopBy(ctx context.Context, from Identity, amount int) (TxHandle, error) {
	if amount < 1 {
		return TxHandle{}, fmt.Errorf("popBy amount must be at least 1, got %d", amount)
	}
	return c.writer.Write(ctx, c.address, from, MethodPopBy, big.NewInt(int64(amount)))
}

// AwaitConfirmation waits for tx to be accepted into the ledger.
func (c *Contract) AwaitConfirmation(ctx context.Context, tx TxHandle) error {
	return c.writer.AwaitConfirmation(ctx, tx)
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil || n.Sign() < 0 || !n.IsUint64() {
			return 0, fmt.Errorf("%w: %v does not fit uint64", ErrDecode, n)
		}
		return n.Uint64(), nil
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrDecode, v)
	}
}
