package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/cache"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/types"
)

var ErrZeroAmount = errors.New("approval amount must be positive")

// Requirement is the ERC-20 allowance an action needs before it can run
type Requirement struct {
	Owner   common.Address
	Spender common.Address
	Token   chains.ContractRef
	Amount  *big.Int
}

// Topic is the cache topic of the allowance this requirement depends on
func (r Requirement) Topic() string {
	return cache.AllowanceTopic(r.Owner, r.Spender, r.Token.Address)
}

// Satisfied reports whether no approval can be needed
func (r Requirement) Satisfied() bool {
	return r.Amount == nil || r.Amount.Sign() <= 0
}

// Gate decides whether an approval must precede an action and builds it
type Gate struct {
	client chains.ChainClient
	store  *cache.Store[*big.Int]
	logger *slog.Logger
}

// NewGate creates a gate; store may be shared with other readers of allowances
func NewGate(client chains.ChainClient, store *cache.Store[*big.Int], logger *slog.Logger) *Gate {
	if store == nil {
		store = cache.NewStore[*big.Int](0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		client: client,
		store:  store,
		logger: logger,
	}
}

// Store returns the allowance cache so it can be attached to an invalidation bus
func (g *Gate) Store() *cache.Store[*big.Int] {
	return g.store
}

func allowanceCall(owner, spender common.Address, token chains.ContractRef) chains.Call {
	return chains.Call{Contract: token, Method: "allowance", Args: []any{owner, spender}}
}

// NeedsApproval reports whether the current allowance is below the required amount.
// It always reads the allowance from the chain; a previously observed value is
// never trusted. A zero requirement is satisfied without any chain call.
func (g *Gate) NeedsApproval(ctx context.Context, req Requirement) (bool, error) {
	if req.Satisfied() {
		return false, nil
	}

	current, err := chains.ReadBig(ctx, g.client, allowanceCall(req.Owner, req.Spender, req.Token))
	if err != nil {
		return false, fmt.Errorf("failed to read allowance: %w", err)
	}
	g.store.Set(req.Topic(), []string{req.Topic()}, current)

	needs := current.Cmp(req.Amount) < 0
	g.logger.Debug("allowance checked",
		"owner", types.CanonicalAddress(req.Owner),
		"spender", types.CanonicalAddress(req.Spender),
		"token", req.Token.String(),
		"current", current.String(),
		"required", req.Amount.String(),
		"needsApproval", needs)
	return needs, nil
}

// CurrentAllowance returns the allowance for display, served from cache when fresh
func (g *Gate) CurrentAllowance(ctx context.Context, owner, spender common.Address, token chains.ContractRef) (*big.Int, error) {
	topic := cache.AllowanceTopic(owner, spender, token.Address)
	v, err := g.store.Get(ctx, topic, []string{topic}, func(ctx context.Context) (*big.Int, error) {
		return chains.ReadBig(ctx, g.client, allowanceCall(owner, spender, token))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	return new(big.Int).Set(v), nil
}

// ApprovalCall is the approve call for exactly the required amount
func ApprovalCall(req Requirement) chains.Call {
	return chains.Call{
		Contract: req.Token,
		Method:   "approve",
		Args:     []any{req.Spender, new(big.Int).Set(req.Amount)},
	}
}

// BuildApproval simulates approve(spender, amount) from the owner
func (g *Gate) BuildApproval(ctx context.Context, req Requirement) (*types.TxRequest, error) {
	if req.Satisfied() {
		return nil, ErrZeroAmount
	}
	return g.client.Simulate(ctx, ApprovalCall(req), req.Owner, nil)
}
