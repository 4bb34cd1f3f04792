package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Provider events and requests of the injected-provider surface (EIP-1193)
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"

	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodChainID         = "eth_chainId"
)

// Error codes defined by EIP-1193 and JSON-RPC
const (
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeMethodNotFound = -32601
)

var (
	ErrUserRejected = errors.New("user rejected the request")
	ErrClosed       = errors.New("wallet session closed")
	ErrWrongChain   = errors.New("wallet is connected to a different chain")
)

// Provider is a wallet that answers account requests and emits change events
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// On registers fn for event. The returned function removes the listener.
	On(event string, fn func(data json.RawMessage)) (unsubscribe func())
}

// ProviderError is an error object returned by a provider
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrUserRejected && e.Code == CodeUserRejected
}

// emitter keeps event listeners for provider implementations
type emitter struct {
	mu        sync.Mutex
	listeners map[string]map[uint64]func(json.RawMessage)
	next      uint64
}

func (e *emitter) On(event string, fn func(data json.RawMessage)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string]map[uint64]func(json.RawMessage))
	}
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[uint64]func(json.RawMessage))
	}
	id := e.next
	e.next++
	e.listeners[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners[event], id)
		})
	}
}

func (e *emitter) emit(event string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	e.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(e.listeners[event]))
	for _, fn := range e.listeners[event] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
	return nil
}

func (e *emitter) listenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners[event])
}
