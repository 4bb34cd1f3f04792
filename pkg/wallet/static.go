package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// StaticProvider is an in-process wallet over a fixed set of accounts, such as the
// address of a local signing key. Approve decides eth_requestAccounts; nil approves.
type StaticProvider struct {
	Approve func() bool

	mu        sync.Mutex
	accounts  []common.Address
	connected bool
	chainID   uint64

	emitter
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(chainID uint64, accounts ...common.Address) *StaticProvider {
	return &StaticProvider{
		accounts: accounts,
		chainID:  chainID,
	}
}

// Connected returns a provider that exposes its accounts without a connect request
func (p *StaticProvider) Connected() *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = true
	return p
}

func (p *StaticProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch method {
	case MethodAccounts:
		return json.Marshal(p.visibleAccounts())
	case MethodRequestAccounts:
		if p.Approve != nil && !p.Approve() {
			return nil, &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
		}
		p.mu.Lock()
		changed := !p.connected
		p.connected = true
		p.mu.Unlock()

		accounts := p.visibleAccounts()
		if changed {
			if err := p.emit(EventAccountsChanged, accounts); err != nil {
				return nil, err
			}
		}
		return json.Marshal(accounts)
	case MethodChainID:
		p.mu.Lock()
		id := p.chainID
		p.mu.Unlock()
		return json.Marshal(hexutil.Uint64(id))
	default:
		return nil, &ProviderError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %s not supported", method)}
	}
}

// SetAccounts replaces the accounts and emits accountsChanged
func (p *StaticProvider) SetAccounts(accounts ...common.Address) error {
	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()

	return p.emit(EventAccountsChanged, p.visibleAccounts())
}

// SetChain switches the chain and emits chainChanged
func (p *StaticProvider) SetChain(chainID uint64) error {
	p.mu.Lock()
	p.chainID = chainID
	p.mu.Unlock()

	return p.emit(EventChainChanged, hexutil.Uint64(chainID))
}

// Disconnect hides the accounts and emits an empty accountsChanged
func (p *StaticProvider) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	return p.emit(EventAccountsChanged, []common.Address{})
}

func (p *StaticProvider) visibleAccounts() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return []common.Address{}
	}
	return append([]common.Address{}, p.accounts...)
}
