package evm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointSetFallsBackToOfficial(t *testing.T) {
	set := NewEndpointSet("bsc-testnet", 97, nil, nil)
	assert.NotEmpty(t, set.Endpoints())

	set = NewEndpointSet("local", 31337, []string{"http://node:8545"}, nil)
	assert.Equal(t, []string{"http://node:8545"}, set.Endpoints())
}

func TestEndpointSetRefreshPrioritizesHealthy(t *testing.T) {
	healthy := map[string]bool{"http://b": true}
	set := NewEndpointSet("local", 31337, []string{"http://a", "http://b", "http://c"}, nil).
		WithProbe(func(ctx context.Context, endpoint string) bool {
			return healthy[endpoint]
		})

	require.NoError(t, set.Refresh(context.Background(), false))
	assert.Equal(t, []string{"http://b", "http://a", "http://c"}, set.Endpoints())
}

func TestEndpointSetDiscovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"chainId": 1, "rpc": [{"url": "https://mainnet.example"}]},
			{"chainId": 97, "rpc": [
				{"url": "https://bsc-testnet.example"},
				{"url": "https://bsc-testnet.example/${API_KEY}"},
				{"url": "wss://bsc-testnet.example"},
				{"url": "https://configured.example"}
			]}
		]`))
	}))
	defer server.Close()

	set := NewEndpointSet("bsc-testnet", 97, []string{"https://configured.example"}, nil).
		WithChainList(server.URL, server.Client()).
		WithProbe(func(ctx context.Context, endpoint string) bool { return true })

	require.NoError(t, set.Refresh(context.Background(), true))
	assert.Equal(t, []string{"https://configured.example", "https://bsc-testnet.example"}, set.Endpoints())
}

func TestEndpointSetDiscoveryFailureKeepsConfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	set := NewEndpointSet("local", 31337, []string{"http://a"}, nil).
		WithChainList(server.URL, nil).
		WithProbe(func(ctx context.Context, endpoint string) bool { return false })

	err := set.Refresh(context.Background(), true)
	assert.Error(t, err)
	assert.Equal(t, []string{"http://a"}, set.Endpoints())
}
