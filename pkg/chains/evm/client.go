package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sigweihq/ebookpay/pkg/chains"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// Options configures a Client. Zero durations and percentages take the defaults from pkg/constants.
type Options struct {
	Network   string
	ChainID   int64
	Endpoints *EndpointSet
	Registry  *chains.ABIRegistry
	Signer    Signer
	Dialer    Dialer
	Logger    *slog.Logger

	GasHeadroomPercent int
	ReadTimeout        time.Duration
	SimulateTimeout    time.Duration
	SendTimeout        time.Duration
	ReceiptTimeout     time.Duration
	PollInterval       time.Duration
	RetryDelay         time.Duration
}

// Client implements chains.ChainClient over go-ethereum JSON-RPC connections.
// Reads and simulations fail over across endpoints; broadcasts go to a single
// endpoint exactly once.
type Client struct {
	network   string
	chainID   *big.Int
	endpoints *EndpointSet
	registry  *chains.ABIRegistry
	signer    Signer
	dial      Dialer
	logger    *slog.Logger

	gasHeadroom     uint64
	readTimeout     time.Duration
	simulateTimeout time.Duration
	sendTimeout     time.Duration
	receiptTimeout  time.Duration
	pollInterval    time.Duration
	retryDelay      time.Duration

	mu    sync.Mutex
	conns map[string]Backend
	sent  sync.Map // common.Hash -> ethereum.CallMsg, for revert reasons of failed receipts
}

var _ chains.ChainClient = (*Client)(nil)

// NewClient creates an EVM chain client
func NewClient(opts Options) (*Client, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("ABI registry is required")
	}

	chainID := opts.ChainID
	if chainID == 0 {
		id, ok := constants.NetworkToChainID[opts.Network]
		if !ok {
			return nil, &UnsupportedNetworkError{Network: opts.Network}
		}
		chainID = id
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoints := opts.Endpoints
	if endpoints == nil {
		endpoints = NewEndpointSet(opts.Network, chainID, nil, logger)
	}

	dial := opts.Dialer
	if dial == nil {
		dial = DialEthclient
	}

	headroom := opts.GasHeadroomPercent
	if headroom <= 0 {
		headroom = constants.GasHeadroomPercent
	}

	return &Client{
		network:         opts.Network,
		chainID:         big.NewInt(chainID),
		endpoints:       endpoints,
		registry:        opts.Registry,
		signer:          opts.Signer,
		dial:            dial,
		logger:          logger,
		gasHeadroom:     uint64(headroom),
		readTimeout:     orDefault(opts.ReadTimeout, constants.ReadTimeout),
		simulateTimeout: orDefault(opts.SimulateTimeout, constants.SimulateTimeout),
		sendTimeout:     orDefault(opts.SendTimeout, constants.SendTimeout),
		receiptTimeout:  orDefault(opts.ReceiptTimeout, constants.ReceiptTimeout),
		pollInterval:    orDefault(opts.PollInterval, constants.ReceiptPollInterval),
		retryDelay:      orDefault(opts.RetryDelay, constants.DelayBetweenRPCCalls*time.Millisecond),
		conns:           make(map[string]Backend),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (c *Client) Network() string {
	return c.network
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Signer returns the configured signer, nil for a read-only client
func (c *Client) Signer() Signer {
	return c.signer
}

func (c *Client) Registry() *chains.ABIRegistry {
	return c.registry
}

// Close closes all open connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for endpoint, b := range c.conns {
		b.Close()
		delete(c.conns, endpoint)
	}
}

// Read implements chains.ChainClient
func (c *Client) Read(ctx context.Context, call chains.Call) ([]any, error) {
	data, err := c.registry.Pack(call.Contract.Name, call.Method, call.Args...)
	if err != nil {
		return nil, &chains.ReadError{Call: call.String(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	to := call.Contract.Address
	msg := ethereum.CallMsg{To: &to, Data: data}

	var result []byte
	err = c.withFailover(ctx, "read", func(ctx context.Context, b Backend) error {
		var callErr error
		result, callErr = b.CallContract(ctx, msg, nil)
		return callErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &chains.TimeoutError{Op: "read " + call.String(), Err: err}
		}
		return nil, &chains.ReadError{Call: call.String(), Err: err}
	}

	out, err := c.registry.Unpack(call.Contract.Name, call.Method, result)
	if err != nil {
		return nil, &chains.ReadError{Call: call.String(), Err: err}
	}
	return out, nil
}

// Simulate implements chains.ChainClient
func (c *Client) Simulate(ctx context.Context, call chains.Call, from common.Address, value *big.Int) (*types.TxRequest, error) {
	if from == (common.Address{}) {
		return nil, fmt.Errorf("simulate %s: sender address is required", call)
	}

	data, err := c.registry.Pack(call.Contract.Name, call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", call, err)
	}

	if value == nil {
		value = new(big.Int)
	}

	ctx, cancel := context.WithTimeout(ctx, c.simulateTimeout)
	defer cancel()

	to := call.Contract.Address
	msg := ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}

	err = c.withFailover(ctx, "simulate", func(ctx context.Context, b Backend) error {
		_, callErr := b.CallContract(ctx, msg, nil)
		return callErr
	})
	if err != nil {
		return nil, simulationError(call, err)
	}

	var gas uint64
	err = c.withFailover(ctx, "estimate gas", func(ctx context.Context, b Backend) error {
		var estErr error
		gas, estErr = b.EstimateGas(ctx, msg)
		return estErr
	})
	if err != nil {
		return nil, simulationError(call, err)
	}

	return &types.TxRequest{
		From:        from,
		To:          to,
		Contract:    call.Contract.Name,
		Method:      call.Method,
		Args:        call.Args,
		Data:        data,
		Value:       new(big.Int).Set(value),
		Gas:         gas + gas*c.gasHeadroom/100,
		SimulatedAt: time.Now(),
	}, nil
}

func simulationError(call chains.Call, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &chains.TimeoutError{Op: "simulate " + call.String(), Err: err}
	}
	if reason, data, ok := decodeRevert(err); ok {
		return &chains.SimulationError{Call: call.String(), Reason: reason, Data: data}
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) || errors.Is(err, chains.ErrNoEndpoints) || errors.Is(err, context.Canceled) {
		return &chains.ReadError{Call: call.String(), Err: err}
	}
	return &chains.SimulationError{Call: call.String(), Reason: err.Error()}
}

// Send implements chains.ChainClient
func (c *Client) Send(ctx context.Context, req *types.TxRequest) (*types.PendingTx, error) {
	if req == nil {
		return nil, fmt.Errorf("transaction request is nil")
	}
	if err := req.Claim(); err != nil {
		return nil, err
	}

	call := req.Contract + "." + req.Method
	if c.signer == nil {
		return nil, &chains.SubmissionError{Call: call, Err: errors.New("no signer configured")}
	}
	if c.signer.Address() != req.From {
		return nil, &chains.SubmissionError{
			Call: call,
			Err:  fmt.Errorf("signer %s cannot send for %s", types.CanonicalAddress(c.signer.Address()), types.CanonicalAddress(req.From)),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	tx, err := c.buildTransaction(ctx, req)
	if err != nil {
		return nil, &chains.SubmissionError{Call: call, Err: err}
	}

	signed, err := c.signer.SignTx(ctx, tx, c.chainID)
	if err != nil {
		if errors.Is(err, chains.ErrSignatureRejected) {
			return nil, fmt.Errorf("%s: %w", call, err)
		}
		return nil, &chains.SubmissionError{Call: call, Err: err}
	}

	hash := signed.Hash()
	if err := c.broadcast(ctx, signed); err != nil {
		if isRejection(err) {
			return nil, &chains.SubmissionError{Call: call, Err: err}
		}
		c.logger.Warn("broadcast outcome unknown", "network", c.network, "tx", hash.Hex(), "error", err)
		return nil, &chains.AmbiguousOutcomeError{Hash: hash, Err: err}
	}

	to := req.To
	c.sent.Store(hash, ethereum.CallMsg{From: req.From, To: &to, Value: req.Value, Data: req.Data})
	c.logger.Info("transaction broadcast", "network", c.network, "tx", hash.Hex(), "method", call, "nonce", signed.Nonce())

	return &types.PendingTx{
		Hash:   hash,
		From:   req.From,
		Nonce:  signed.Nonce(),
		Method: call,
		SentAt: time.Now(),
	}, nil
}

// buildTransaction looks up nonce and fees. Lookups are idempotent so they may fail over.
func (c *Client) buildTransaction(ctx context.Context, req *types.TxRequest) (*ethtypes.Transaction, error) {
	var (
		nonce    uint64
		header   *ethtypes.Header
		tipCap   *big.Int
		gasPrice *big.Int
	)

	err := c.withFailover(ctx, "prepare transaction", func(ctx context.Context, b Backend) error {
		var err error
		if nonce, err = b.PendingNonceAt(ctx, req.From); err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		if header, err = b.HeaderByNumber(ctx, nil); err != nil {
			return fmt.Errorf("failed to get latest header: %w", err)
		}
		if header.BaseFee != nil {
			if tipCap, err = b.SuggestGasTipCap(ctx); err != nil {
				return fmt.Errorf("failed to suggest gas tip cap: %w", err)
			}
			return nil
		}
		if gasPrice, err = b.SuggestGasPrice(ctx); err != nil {
			return fmt.Errorf("failed to suggest gas price: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	to := req.To
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	if header.BaseFee == nil {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      req.Gas,
			To:       &to,
			Value:    value,
			Data:     req.Data,
		}), nil
	}

	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       req.Gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	}), nil
}

// broadcast hands a signed transaction to the highest priority endpoint, once
func (c *Client) broadcast(ctx context.Context, tx *ethtypes.Transaction) error {
	endpoints := c.endpoints.Endpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("%w for network %s", chains.ErrNoEndpoints, c.network)
	}

	b, err := c.backend(ctx, endpoints[0])
	if err != nil {
		return err
	}

	err = b.SendTransaction(ctx, tx)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
		return nil
	}
	return err
}

// WaitForReceipt implements chains.ChainClient
func (c *Client) WaitForReceipt(ctx context.Context, pending *types.PendingTx, confirmations uint64) (*types.TxReceipt, error) {
	if pending == nil {
		return nil, fmt.Errorf("pending transaction is nil")
	}
	if confirmations == 0 {
		confirmations = 1
	}

	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.pollReceipt(ctx, pending.Hash, confirmations)
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			c.logger.Debug("receipt poll failed", "network", c.network, "tx", pending.Hash.Hex(), "error", err)
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, &chains.TimeoutError{Op: "wait for receipt", Hash: pending.Hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// pollReceipt returns the receipt once it has enough confirmations, nil otherwise
func (c *Client) pollReceipt(ctx context.Context, hash common.Hash, confirmations uint64) (*types.TxReceipt, error) {
	var (
		raw  *ethtypes.Receipt
		head uint64
	)
	err := c.withFailover(ctx, "receipt", func(ctx context.Context, b Backend) error {
		var err error
		raw, err = b.TransactionReceipt(ctx, hash)
		if err != nil || confirmations <= 1 {
			return err
		}
		head, err = b.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	receipt := toReceipt(raw)
	if confirmations > 1 && (head < receipt.BlockNumber || head-receipt.BlockNumber+1 < confirmations) {
		return nil, nil
	}

	if receipt.Status == types.TxFailed {
		receipt.Reason = c.revertReason(ctx, hash, receipt.BlockNumber)
	}
	c.sent.Delete(hash)
	return receipt, nil
}

// revertReason replays a failed transaction against the parent block to recover its reason
func (c *Client) revertReason(ctx context.Context, hash common.Hash, blockNumber uint64) string {
	stored, ok := c.sent.Load(hash)
	if !ok || blockNumber == 0 {
		return revertPrefix
	}
	msg := stored.(ethereum.CallMsg)

	var reason string
	_ = c.withFailover(ctx, "replay", func(ctx context.Context, b Backend) error {
		_, err := b.CallContract(ctx, msg, new(big.Int).SetUint64(blockNumber-1))
		if r, _, isRevert := decodeRevert(err); isRevert {
			reason = r
			return nil
		}
		return err
	})
	if reason == "" {
		return revertPrefix
	}
	return reason
}
