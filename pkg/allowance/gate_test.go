package allowance

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/chains/chainstest"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	spender = common.HexToAddress("0x0000000000000000000000000000000000000002")
	token   = chains.ContractRef{Name: "feeToken", Address: common.HexToAddress("0x0000000000000000000000000000000000000003")}
)

// tokenState is an ERC-20 allowance table scripted into a fake client
type tokenState struct {
	mu        sync.Mutex
	allowance *big.Int
}

func (s *tokenState) get() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.allowance)
}

func newFake(initial int64) (*chainstest.Client, *tokenState) {
	state := &tokenState{allowance: big.NewInt(initial)}
	client := chainstest.New().
		OnRead("feeToken.allowance", func(call chains.Call) ([]any, error) {
			return []any{state.get()}, nil
		}).
		OnSend(func(req *types.TxRequest) error {
			if req.Method == "approve" {
				state.mu.Lock()
				state.allowance = new(big.Int).Set(req.Args[1].(*big.Int))
				state.mu.Unlock()
			}
			return nil
		})
	return client, state
}

func requirement(amount int64) Requirement {
	return Requirement{Owner: owner, Spender: spender, Token: token, Amount: big.NewInt(amount)}
}

func TestNeedsApproval(t *testing.T) {
	tests := []struct {
		name      string
		current   int64
		required  int64
		expected  bool
		wantReads int
	}{
		{name: "below requirement", current: 5, required: 10, expected: true, wantReads: 1},
		{name: "equal to requirement", current: 10, required: 10, expected: false, wantReads: 1},
		{name: "above requirement", current: 11, required: 10, expected: false, wantReads: 1},
		{name: "zero requirement", current: 0, required: 0, expected: false, wantReads: 0},
		{name: "zero requirement with allowance", current: 100, required: 0, expected: false, wantReads: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newFake(tt.current)
			gate := NewGate(client, nil, nil)

			needs, err := gate.NeedsApproval(context.Background(), requirement(tt.required))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, needs)
			assert.Equal(t, tt.wantReads, client.Reads(""))
		})
	}
}

func TestNeedsApprovalNilAmount(t *testing.T) {
	client, _ := newFake(0)
	gate := NewGate(client, nil, nil)

	needs, err := gate.NeedsApproval(context.Background(), Requirement{Owner: owner, Spender: spender, Token: token})
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, 0, client.Reads(""))
}

func TestNeedsApprovalAlwaysReadsFresh(t *testing.T) {
	client, state := newFake(10)
	gate := NewGate(client, nil, nil)
	ctx := context.Background()

	needs, err := gate.NeedsApproval(ctx, requirement(10))
	require.NoError(t, err)
	assert.False(t, needs)

	// allowance spent elsewhere
	state.mu.Lock()
	state.allowance = big.NewInt(0)
	state.mu.Unlock()

	needs, err = gate.NeedsApproval(ctx, requirement(10))
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, 2, client.Reads("feeToken.allowance"))
}

func TestCurrentAllowanceIsCached(t *testing.T) {
	client, state := newFake(4)
	gate := NewGate(client, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := gate.CurrentAllowance(ctx, owner, spender, token)
		require.NoError(t, err)
		assert.Equal(t, int64(4), v.Int64())
	}
	assert.Equal(t, 1, client.Reads(""))

	state.mu.Lock()
	state.allowance = big.NewInt(9)
	state.mu.Unlock()

	// a fresh check refreshes the display value
	_, err := gate.NeedsApproval(ctx, requirement(1))
	require.NoError(t, err)
	v, err := gate.CurrentAllowance(ctx, owner, spender, token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int64())
	assert.Equal(t, 2, client.Reads(""))

	gate.Store().Invalidate(requirement(1).Topic())
	_, err = gate.CurrentAllowance(ctx, owner, spender, token)
	require.NoError(t, err)
	assert.Equal(t, 3, client.Reads(""))
}

func TestCurrentAllowanceReturnsCopy(t *testing.T) {
	client, _ := newFake(4)
	gate := NewGate(client, nil, nil)

	v, err := gate.CurrentAllowance(context.Background(), owner, spender, token)
	require.NoError(t, err)
	v.SetInt64(1000)

	v, err = gate.CurrentAllowance(context.Background(), owner, spender, token)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Int64())
}

func TestBuildApprovalExactAmount(t *testing.T) {
	client, _ := newFake(0)
	gate := NewGate(client, nil, nil)

	req, err := gate.BuildApproval(context.Background(), requirement(1234))
	require.NoError(t, err)
	assert.Equal(t, owner, req.From)
	assert.Equal(t, token.Address, req.To)
	assert.Equal(t, "approve", req.Method)
	require.Len(t, req.Args, 2)
	assert.Equal(t, spender, req.Args[0])
	assert.Equal(t, big.NewInt(1234), req.Args[1])

	_, err = gate.BuildApproval(context.Background(), requirement(0))
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestApprovalThenUnchangedFeeNeedsNoApproval(t *testing.T) {
	client, _ := newFake(0)
	gate := NewGate(client, nil, nil)
	ctx := context.Background()
	fee := requirement(500)

	needs, err := gate.NeedsApproval(ctx, fee)
	require.NoError(t, err)
	require.True(t, needs)

	req, err := gate.BuildApproval(ctx, fee)
	require.NoError(t, err)
	pending, err := client.Send(ctx, req)
	require.NoError(t, err)
	receipt, err := client.WaitForReceipt(ctx, pending, 1)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())

	needs, err = gate.NeedsApproval(ctx, fee)
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, 1, client.Simulations("feeToken.approve"))
}

func TestNeedsApprovalReadFailure(t *testing.T) {
	client := chainstest.New()
	gate := NewGate(client, nil, nil)

	_, err := gate.NeedsApproval(context.Background(), requirement(1))
	var readErr *chains.ReadError
	assert.ErrorAs(t, err, &readErr)
}
