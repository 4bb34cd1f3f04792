package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/ebookpay/pkg/chains"
)

// Backend is the subset of an Ethereum JSON-RPC connection the client uses
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a Backend for an endpoint URL
type Dialer func(ctx context.Context, endpoint string) (Backend, error)

// ethBackend is an ethclient connection with tolerant receipt decoding
type ethBackend struct {
	*ethclient.Client
}

// DialEthclient is the default Dialer
func DialEthclient(ctx context.Context, endpoint string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &ethBackend{Client: client}, nil
}

var _ Backend = (*ethBackend)(nil)

// TransactionReceipt overrides ethclient's decoding, which rejects receipts
// whose logs carry non-standard fields on some networks
func (b *ethBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return patchedTransactionReceipt(ctx, b.Client, txHash)
}

// patchedTransactionReceipt gets a transaction receipt with log field fixes
func patchedTransactionReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	var raw json.RawMessage
	err := client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ethereum.NotFound
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	err = json.Unmarshal(cleaned, &receipt)
	if err != nil {
		return nil, err
	}

	return &receipt, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}

	logs, ok := receiptMap["logs"].([]interface{})
	if ok {
		for _, log := range logs {
			logMap, ok := log.(map[string]interface{})
			if ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}

// backend returns a cached connection for an endpoint, dialing on first use
func (c *Client) backend(ctx context.Context, endpoint string) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.conns[endpoint]; ok {
		return b, nil
	}
	b, err := c.dial(ctx, endpoint)
	if err != nil {
		return nil, &RPCError{Endpoint: endpoint, Err: err}
	}
	c.conns[endpoint] = b
	return b, nil
}

// dropBackend closes and forgets a connection after a transport failure
func (c *Client) dropBackend(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.conns[endpoint]; ok {
		b.Close()
		delete(c.conns, endpoint)
	}
}

// withFailover runs fn against the configured endpoints until one succeeds.
// It starts at a random position for load balancing and moves on only for
// transient errors; any other error is returned as is. Only idempotent
// operations may use it.
func (c *Client) withFailover(ctx context.Context, op string, fn func(ctx context.Context, b Backend) error) error {
	endpoints := c.endpoints.Endpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("%w for network %s", chains.ErrNoEndpoints, c.network)
	}

	startIdx := rand.Intn(len(endpoints))
	var lastErr error

	for i := 0; i < len(endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i) * c.retryDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		endpoint := endpoints[(startIdx+i)%len(endpoints)]

		b, err := c.backend(ctx, endpoint)
		if err != nil {
			lastErr = err
			c.logger.Warn("failed to dial RPC endpoint", "network", c.network, "endpoint", endpoint, "error", err)
			continue
		}

		err = fn(ctx, b)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !chains.IsTransient(err) {
			return err
		}

		lastErr = &RPCError{Endpoint: endpoint, Err: err}
		c.dropBackend(endpoint)
		c.logger.Warn("RPC call failed, trying next endpoint", "network", c.network, "op", op, "endpoint", endpoint, "error", err)
	}

	return fmt.Errorf("all RPC endpoints failed for network %s: %w", c.network, lastErr)
}
