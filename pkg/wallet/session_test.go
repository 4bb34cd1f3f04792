package wallet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ workflow.AccountSource = (*Session)(nil)

var (
	alice = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func TestSessionStartsDisconnected(t *testing.T) {
	provider := NewStaticProvider(97, alice)

	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)
	defer session.Close()

	_, ok := session.Account()
	assert.False(t, ok)
	assert.Equal(t, uint64(97), session.ChainID())
}

func TestSessionAlreadyConnected(t *testing.T) {
	provider := NewStaticProvider(56, alice, bob).Connected()

	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)
	defer session.Close()

	account, ok := session.Account()
	assert.True(t, ok)
	assert.Equal(t, alice, account)
}

func TestSessionConnect(t *testing.T) {
	tests := []struct {
		name    string
		approve func() bool
		wantErr error
	}{
		{name: "approved", approve: func() bool { return true }},
		{name: "no prompt", approve: nil},
		{name: "declined", approve: func() bool { return false }, wantErr: ErrUserRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewStaticProvider(97, alice)
			provider.Approve = tt.approve

			session, err := NewSession(context.Background(), provider, nil)
			require.NoError(t, err)
			defer session.Close()

			account, err := session.Connect(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, ok := session.Account()
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, alice, account)
		})
	}
}

func TestSessionFollowsEvents(t *testing.T) {
	provider := NewStaticProvider(97, alice).Connected()
	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)
	defer session.Close()

	var mu sync.Mutex
	var seen []State
	unsubscribe := session.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	defer unsubscribe()

	require.NoError(t, provider.SetAccounts(bob))
	account, ok := session.Account()
	assert.True(t, ok)
	assert.Equal(t, bob, account)

	require.NoError(t, provider.SetChain(56))
	assert.Equal(t, uint64(56), session.ChainID())
	assert.ErrorIs(t, session.RequireChain(97), ErrWrongChain)
	assert.NoError(t, session.RequireChain(56))

	// empty accounts is a disconnect, not an error
	require.NoError(t, provider.Disconnect())
	_, ok = session.Account()
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, State{Account: bob, Connected: true, ChainID: 97}, seen[0])
	assert.Equal(t, State{ChainID: 56}, seen[2])
}

func TestSessionIgnoresMalformedEvents(t *testing.T) {
	provider := NewStaticProvider(97, alice).Connected()
	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, provider.emit(EventAccountsChanged, []string{"not-an-address"}))
	require.NoError(t, provider.emit(EventChainChanged, "sixty"))

	account, ok := session.Account()
	assert.True(t, ok)
	assert.Equal(t, alice, account)
	assert.Equal(t, uint64(97), session.ChainID())
}

func TestSessionCloseRemovesListeners(t *testing.T) {
	provider := NewStaticProvider(97, alice).Connected()
	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)

	calls := 0
	session.Subscribe(func(State) { calls++ })
	assert.Equal(t, 1, provider.listenerCount(EventAccountsChanged))

	session.Close()
	session.Close()
	assert.Equal(t, 0, provider.listenerCount(EventAccountsChanged))
	assert.Equal(t, 0, provider.listenerCount(EventChainChanged))

	require.NoError(t, provider.SetAccounts(bob))
	account, _ := session.Account()
	assert.Equal(t, alice, account)
	assert.Equal(t, 0, calls)

	_, err = session.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProviderErrorIs(t *testing.T) {
	assert.ErrorIs(t, &ProviderError{Code: CodeUserRejected, Message: "no"}, ErrUserRejected)
	assert.NotErrorIs(t, &ProviderError{Code: CodeUnauthorized, Message: "no"}, ErrUserRejected)
}

// nodeServer answers JSON-RPC like a dev node with unlocked accounts
func nodeServer(t *testing.T, accounts func() []string, chainID func() string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		var result any
		switch req.Method {
		case MethodAccounts:
			result = accounts()
		case MethodChainID:
			result = chainID()
		default:
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":`+string(req.ID)+`,"error":{"code":-32601,"message":"the method `+req.Method+` does not exist/is not available"}}`)
			return
		}
		out, _ := json.Marshal(result)
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":`+string(req.ID)+`,"result":`+string(out)+`}`)
	}))
}

func TestRPCProviderSession(t *testing.T) {
	server := nodeServer(t,
		func() []string { return []string{strings.ToLower(alice.Hex())} },
		func() string { return "0x7a69" },
	)
	defer server.Close()

	provider, err := DialRPCProvider(context.Background(), server.URL, nil)
	require.NoError(t, err)
	defer provider.Close()

	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)
	defer session.Close()

	account, ok := session.Account()
	assert.True(t, ok)
	assert.Equal(t, alice, account)
	assert.Equal(t, uint64(31337), session.ChainID())

	// eth_requestAccounts is not served by nodes and falls back to eth_accounts
	account, err = session.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, alice, account)

	_, err = provider.Request(context.Background(), "eth_sign")
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, CodeMethodNotFound, providerErr.Code)
}

func TestRPCProviderWatch(t *testing.T) {
	var mu sync.Mutex
	current := []string{alice.Hex()}
	server := nodeServer(t,
		func() []string {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
		func() string { return "0x61" },
	)
	defer server.Close()

	provider, err := DialRPCProvider(context.Background(), server.URL, nil)
	require.NoError(t, err)
	defer provider.Close()

	session, err := NewSession(context.Background(), provider, nil)
	require.NoError(t, err)
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go provider.Watch(ctx, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	current = []string{}
	mu.Unlock()

	assert.Eventually(t, func() bool {
		_, ok := session.Account()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
