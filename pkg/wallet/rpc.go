package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPCProvider exposes node-managed accounts (an unlocked dev node, a remote signer)
// through the provider interface. Nodes push no events, so Watch polls for changes.
type RPCProvider struct {
	client *rpc.Client
	logger *slog.Logger

	emitter
}

var _ Provider = (*RPCProvider)(nil)

// DialRPCProvider connects to a node or signer endpoint
func DialRPCProvider(ctx context.Context, url string, logger *slog.Logger) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet endpoint %s: %w", url, err)
	}
	return NewRPCProvider(client, logger), nil
}

func NewRPCProvider(client *rpc.Client, logger *slog.Logger) *RPCProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCProvider{client: client, logger: logger}
}

func (p *RPCProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var result json.RawMessage
	err := p.client.CallContext(ctx, &result, method, params...)
	if err == nil {
		return result, nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		// Nodes do not implement eth_requestAccounts; their accounts are already exposed
		if method == MethodRequestAccounts && rpcErr.ErrorCode() == CodeMethodNotFound {
			return p.Request(ctx, MethodAccounts)
		}
		return nil, &ProviderError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return nil, fmt.Errorf("%s failed: %w", method, err)
}

// Watch polls accounts and chain id every interval and emits change events until
// ctx is done
func (p *RPCProvider) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := map[string]json.RawMessage{}
	check := func(method, event string) {
		value, err := p.Request(ctx, method)
		if err != nil {
			p.logger.Warn("failed to poll wallet", "method", method, "error", err)
			return
		}
		if prev, ok := last[method]; ok && !bytes.Equal(compact(prev), compact(value)) {
			p.emitRaw(event, value)
		}
		last[method] = value
	}
	poll := func() {
		check(MethodAccounts, EventAccountsChanged)
		check(MethodChainID, EventChainChanged)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

func (p *RPCProvider) emitRaw(event string, data json.RawMessage) {
	if err := p.emit(event, data); err != nil {
		p.logger.Warn("failed to emit wallet event", "event", event, "error", err)
	}
}

func (p *RPCProvider) Close() {
	p.client.Close()
}

func compact(data json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return data
	}
	return bytes.ToLower(buf.Bytes())
}
