package chains

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// ContractRef names a deployed contract: Name selects the ABI in the registry,
// Address is where it is deployed. One ABI may be bound to several addresses.
type ContractRef struct {
	Name    string
	Address common.Address
}

func (r ContractRef) String() string {
	return fmt.Sprintf("%s@%s", r.Name, types.CanonicalAddress(r.Address))
}

// Call is a contract function invocation with ordered arguments
type Call struct {
	Contract ContractRef
	Method   string
	Args     []any
}

func (c Call) String() string {
	return c.Contract.Name + "." + c.Method
}

// ChainClient is the single boundary through which on-chain state is read and written
type ChainClient interface {
	// Read performs a view call at the latest block and returns the decoded outputs
	Read(ctx context.Context, call Call) ([]any, error)

	// Simulate dry-runs a state-changing call as from and returns a request ready to send.
	// A revert is reported as *SimulationError with the contract's reason verbatim.
	Simulate(ctx context.Context, call Call, from common.Address, value *big.Int) (*types.TxRequest, error)

	// Send signs and broadcasts a simulated request exactly once. It is never retried:
	// an ambiguous failure after signing is reported as *AmbiguousOutcomeError.
	Send(ctx context.Context, req *types.TxRequest) (*types.PendingTx, error)

	// WaitForReceipt blocks until the transaction has the given number of confirmations.
	// Abandoning ctx stops waiting; it does not affect the broadcast transaction.
	WaitForReceipt(ctx context.Context, pending *types.PendingTx, confirmations uint64) (*types.TxReceipt, error)
}

// ReadValue reads a call and returns its first output as T
func ReadValue[T any](ctx context.Context, client ChainClient, call Call) (T, error) {
	var zero T
	out, err := client.Read(ctx, call)
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, &ReadError{Call: call.String(), Err: fmt.Errorf("no return values")}
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, &ReadError{Call: call.String(), Err: fmt.Errorf("unexpected return type %T", out[0])}
	}
	return v, nil
}

// ReadBig reads a call returning a single uint256
func ReadBig(ctx context.Context, client ChainClient, call Call) (*big.Int, error) {
	return ReadValue[*big.Int](ctx, client, call)
}
