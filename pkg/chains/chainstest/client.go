// Package chainstest provides an in-memory chains.ChainClient for tests.
package chainstest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/types"
)

type ReadFunc func(call chains.Call) ([]any, error)
type SimulateFunc func(call chains.Call, from common.Address) error
type SendFunc func(req *types.TxRequest) error
type WaitFunc func(ctx context.Context, pending *types.PendingTx) (*types.TxReceipt, error)

// Client is a scripted ChainClient. Handlers are keyed by "contract.method".
// Unscripted reads fail; unscripted writes succeed and confirm immediately.
type Client struct {
	mu        sync.Mutex
	reads     map[string]ReadFunc
	simulates map[string]SimulateFunc
	onSend    SendFunc
	onWait    WaitFunc

	readLog     []chains.Call
	simulateLog []chains.Call
	sent        []*types.TxRequest
	pending     map[common.Hash]*types.TxRequest
	nonce       uint64
}

var _ chains.ChainClient = (*Client)(nil)

func New() *Client {
	return &Client{
		reads:     make(map[string]ReadFunc),
		simulates: make(map[string]SimulateFunc),
		pending:   make(map[common.Hash]*types.TxRequest),
	}
}

// OnRead scripts a view call
func (c *Client) OnRead(method string, fn ReadFunc) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[method] = fn
	return c
}

// ReturnRead scripts a view call with fixed outputs
func (c *Client) ReturnRead(method string, values ...any) *Client {
	return c.OnRead(method, func(chains.Call) ([]any, error) { return values, nil })
}

// OnSimulate scripts a dry run; a non-nil error fails the simulation
func (c *Client) OnSimulate(method string, fn SimulateFunc) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simulates[method] = fn
	return c
}

// Revert makes simulations of method revert with reason
func (c *Client) Revert(method, reason string) *Client {
	return c.OnSimulate(method, func(call chains.Call, from common.Address) error {
		return &chains.SimulationError{Call: call.String(), Reason: reason}
	})
}

// OnSend runs before a claimed request is recorded as broadcast; an error fails Send
func (c *Client) OnSend(fn SendFunc) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
	return c
}

// OnWait replaces receipt waiting
func (c *Client) OnWait(fn WaitFunc) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWait = fn
	return c
}

func (c *Client) Read(ctx context.Context, call chains.Call) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.readLog = append(c.readLog, call)
	fn, ok := c.reads[call.String()]
	c.mu.Unlock()

	if !ok {
		return nil, &chains.ReadError{Call: call.String(), Err: fmt.Errorf("%w: unscripted", chains.ErrUnknownMethod)}
	}
	return fn(call)
}

func (c *Client) Simulate(ctx context.Context, call chains.Call, from common.Address, value *big.Int) (*types.TxRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.simulateLog = append(c.simulateLog, call)
	fn := c.simulates[call.String()]
	c.mu.Unlock()

	if fn != nil {
		if err := fn(call, from); err != nil {
			return nil, err
		}
	}
	if value == nil {
		value = new(big.Int)
	}
	return &types.TxRequest{
		From:        from,
		To:          call.Contract.Address,
		Contract:    call.Contract.Name,
		Method:      call.Method,
		Args:        call.Args,
		Value:       new(big.Int).Set(value),
		Gas:         100000,
		SimulatedAt: time.Now(),
	}, nil
}

func (c *Client) Send(ctx context.Context, req *types.TxRequest) (*types.PendingTx, error) {
	if err := req.Claim(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	onSend := c.onSend
	c.mu.Unlock()

	if onSend != nil {
		if err := onSend(req); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonce++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s.%s#%d", req.Contract, req.Method, c.nonce)))
	c.sent = append(c.sent, req)
	c.pending[hash] = req
	return &types.PendingTx{
		Hash:   hash,
		From:   req.From,
		Nonce:  c.nonce,
		Method: req.Contract + "." + req.Method,
		SentAt: time.Now(),
	}, nil
}

func (c *Client) WaitForReceipt(ctx context.Context, pending *types.PendingTx, confirmations uint64) (*types.TxReceipt, error) {
	c.mu.Lock()
	onWait := c.onWait
	c.mu.Unlock()

	if onWait != nil {
		return onWait(ctx, pending)
	}
	if err := ctx.Err(); err != nil {
		return nil, &chains.TimeoutError{Op: "wait for receipt", Hash: pending.Hash, Err: err}
	}
	return &types.TxReceipt{Hash: pending.Hash, Status: types.TxSucceeded, BlockNumber: 1}, nil
}

// Reads returns the number of view calls made for method, or all view calls when method is empty
func (c *Client) Reads(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countCalls(c.readLog, method)
}

// Simulations returns the number of dry runs made for method, or all when method is empty
func (c *Client) Simulations(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countCalls(c.simulateLog, method)
}

// Sent returns the broadcast requests in order
func (c *Client) Sent() []*types.TxRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.TxRequest(nil), c.sent...)
}

func countCalls(calls []chains.Call, method string) int {
	if method == "" {
		return len(calls)
	}
	n := 0
	for _, call := range calls {
		if call.String() == method {
			n++
		}
	}
	return n
}

// Succeed is a WaitFunc confirming every transaction
func Succeed(ctx context.Context, pending *types.PendingTx) (*types.TxReceipt, error) {
	return &types.TxReceipt{Hash: pending.Hash, Status: types.TxSucceeded, BlockNumber: 1}, nil
}

// Reverted is a WaitFunc reporting every transaction as failed with reason
func Reverted(reason string) WaitFunc {
	return func(ctx context.Context, pending *types.PendingTx) (*types.TxReceipt, error) {
		return &types.TxReceipt{Hash: pending.Hash, Status: types.TxFailed, BlockNumber: 1, Reason: reason}, nil
	}
}

// Block is a WaitFunc that waits until ctx is done
func Block(ctx context.Context, pending *types.PendingTx) (*types.TxReceipt, error) {
	<-ctx.Done()
	return nil, &chains.TimeoutError{Op: "wait for receipt", Hash: pending.Hash, Err: ctx.Err()}
}

// Uint is a convenience for scripting uint256 outputs
func Uint(v int64) *big.Int {
	return big.NewInt(v)
}
