package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sigweihq/ebookpay/pkg/types"
)

// State is what a session knows about the wallet. An empty account list is a
// disconnected wallet, not an error.
type State struct {
	Account   common.Address
	Connected bool
	ChainID   uint64
}

// Session tracks the active account and chain of a provider
type Session struct {
	provider Provider
	logger   *slog.Logger

	mu        sync.RWMutex
	state     State
	closed    bool
	listeners []func()

	subMu sync.Mutex
	subs  map[uint64]func(State)
	next  uint64
}

// NewSession reads the currently exposed accounts and chain without prompting,
// then follows accountsChanged and chainChanged until Close
func NewSession(ctx context.Context, provider Provider, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		provider: provider,
		logger:   logger,
		subs:     make(map[uint64]func(State)),
	}

	accounts, err := s.requestAccounts(ctx, MethodAccounts)
	if err != nil {
		return nil, err
	}
	chainID, err := s.requestChainID(ctx)
	if err != nil {
		return nil, err
	}
	s.state = stateFor(accounts, chainID)

	s.listeners = append(s.listeners,
		provider.On(EventAccountsChanged, s.onAccountsChanged),
		provider.On(EventChainChanged, s.onChainChanged),
	)

	logger.Debug("wallet session started", "connected", s.state.Connected, "chain_id", chainID)
	return s, nil
}

// Connect asks the wallet to expose an account. A refusal is ErrUserRejected.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.isClosed() {
		return common.Address{}, ErrClosed
	}
	accounts, err := s.requestAccounts(ctx, MethodRequestAccounts)
	if err != nil {
		return common.Address{}, err
	}
	s.update(func(st *State) {
		next := stateFor(accounts, st.ChainID)
		st.Account, st.Connected = next.Account, next.Connected
	})

	account, ok := s.Account()
	if !ok {
		return common.Address{}, fmt.Errorf("%w: wallet exposed no accounts", ErrUserRejected)
	}
	return account, nil
}

// Account returns the active account, or false when the wallet is disconnected
func (s *Session) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Account, s.state.Connected
}

func (s *Session) ChainID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.ChainID
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// RequireChain fails with ErrWrongChain unless the wallet is on chainID
func (s *Session) RequireChain(chainID uint64) error {
	if got := s.ChainID(); got != chainID {
		return fmt.Errorf("%w: wallet on %d, need %d", ErrWrongChain, got, chainID)
	}
	return nil
}

// Subscribe registers fn for every state change. The returned function removes it.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.next
	s.next++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
		})
	}
}

// Close removes the provider listeners. Events arriving afterwards are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, remove := range listeners {
		remove()
	}

	s.subMu.Lock()
	s.subs = make(map[uint64]func(State))
	s.subMu.Unlock()
}

func (s *Session) onAccountsChanged(data json.RawMessage) {
	accounts, err := decodeAccounts(data)
	if err != nil {
		s.logger.Warn("ignoring malformed accountsChanged event", "error", err)
		return
	}
	s.update(func(st *State) {
		next := stateFor(accounts, st.ChainID)
		st.Account, st.Connected = next.Account, next.Connected
	})
}

func (s *Session) onChainChanged(data json.RawMessage) {
	chainID, err := decodeChainID(data)
	if err != nil {
		s.logger.Warn("ignoring malformed chainChanged event", "error", err)
		return
	}
	s.update(func(st *State) { st.ChainID = chainID })
}

func (s *Session) update(change func(*State)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	change(&s.state)
	next := s.state
	s.mu.Unlock()

	if prev == next {
		return
	}
	if prev.Account != next.Account || prev.Connected != next.Connected {
		s.logger.Info("wallet account changed", "account", types.CanonicalAddress(next.Account), "connected", next.Connected)
	}
	if prev.ChainID != next.ChainID {
		s.logger.Info("wallet chain changed", "chain_id", next.ChainID)
	}

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}

func (s *Session) requestAccounts(ctx context.Context, method string) ([]common.Address, error) {
	raw, err := s.provider.Request(ctx, method)
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	return decodeAccounts(raw)
}

func (s *Session) requestChainID(ctx context.Context) (uint64, error) {
	raw, err := s.provider.Request(ctx, MethodChainID)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", MethodChainID, err)
	}
	return decodeChainID(raw)
}

func stateFor(accounts []common.Address, chainID uint64) State {
	if len(accounts) == 0 {
		return State{ChainID: chainID}
	}
	return State{Account: accounts[0], Connected: true, ChainID: chainID}
}

func decodeAccounts(data json.RawMessage) ([]common.Address, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid accounts payload: %w", err)
	}
	accounts := make([]common.Address, 0, len(raw))
	for _, a := range raw {
		addr, err := types.ParseAddress(a)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, addr)
	}
	return accounts, nil
}

func decodeChainID(data json.RawMessage) (uint64, error) {
	var id hexutil.Uint64
	if err := json.Unmarshal(data, &id); err != nil {
		return 0, fmt.Errorf("invalid chain id payload: %w", err)
	}
	return uint64(id), nil
}
