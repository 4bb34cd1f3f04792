package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sigweihq/ebookpay/pkg/constants"
)

// ChainListResponse represents a chain entry from chainlist.org/rpcs.json
type ChainListResponse struct {
	ChainID int `json:"chainId"`
	RPC     []struct {
		URL string `json:"url"`
	} `json:"rpc"`
}

// ProbeFunc reports whether an endpoint answers
type ProbeFunc func(ctx context.Context, endpoint string) bool

// EndpointSet is the ordered list of RPC endpoints for one chain.
// Refresh probes every endpoint and moves healthy ones to the front;
// unhealthy ones stay in the list as backup.
type EndpointSet struct {
	network   string
	chainID   int64
	endpoints []string
	probe     ProbeFunc

	chainListURL string
	httpClient   *http.Client

	logger *slog.Logger
	mu     sync.RWMutex
}

// NewEndpointSet creates a set from configured endpoints, falling back to the
// official endpoints of the network when none are given
func NewEndpointSet(network string, chainID int64, configured []string, logger *slog.Logger) *EndpointSet {
	if logger == nil {
		logger = slog.Default()
	}
	endpoints := append([]string(nil), configured...)
	if len(endpoints) == 0 {
		endpoints = append(endpoints, constants.OfficialRPCEndpoints[network]...)
	}
	return &EndpointSet{
		network:      network,
		chainID:      chainID,
		endpoints:    endpoints,
		probe:        probeBlockNumber,
		chainListURL: constants.ChainListURL,
		httpClient:   &http.Client{Timeout: constants.GatewayTimeout},
		logger:       logger,
	}
}

// WithProbe replaces the health probe
func (s *EndpointSet) WithProbe(probe ProbeFunc) *EndpointSet {
	s.probe = probe
	return s
}

// WithChainList sets the chain list source used by Refresh when discovery is enabled
func (s *EndpointSet) WithChainList(url string, client *http.Client) *EndpointSet {
	s.chainListURL = url
	if client != nil {
		s.httpClient = client
	}
	return s
}

// Endpoints returns a copy of the current priority order
func (s *EndpointSet) Endpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.endpoints...)
}

// Refresh probes the endpoints and reorders them healthy-first.
// With discover set, HTTPS endpoints for the chain ID are first added from the chain list;
// a failed fetch is returned after the existing endpoints were still reprioritized.
func (s *EndpointSet) Refresh(ctx context.Context, discover bool) error {
	current := s.Endpoints()

	var fetchErr error
	if discover {
		discovered, err := s.fetchChainEndpoints(ctx)
		if err != nil {
			s.logger.Warn("failed to fetch chain list, using configured endpoints only", "network", s.network, "error", err)
			fetchErr = err
		}
		current = mergeEndpoints(current, discovered)
	}

	var healthy, unhealthy []string
	for _, endpoint := range current {
		if s.probe(ctx, endpoint) {
			healthy = append(healthy, endpoint)
		} else {
			unhealthy = append(unhealthy, endpoint)
		}
	}

	s.mu.Lock()
	s.endpoints = append(healthy, unhealthy...)
	s.mu.Unlock()

	s.logger.Debug("health check complete",
		"network", s.network,
		"healthy", len(healthy),
		"unhealthy", len(unhealthy))

	return fetchErr
}

// fetchChainEndpoints fetches the HTTPS endpoints listed for this chain
func (s *EndpointSet) fetchChainEndpoints(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.chainListURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain list request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chainlist data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain list returned status %d", resp.StatusCode)
	}

	var chains []ChainListResponse
	if err := json.NewDecoder(resp.Body).Decode(&chains); err != nil {
		return nil, fmt.Errorf("failed to decode chainlist data: %w", err)
	}

	var endpoints []string
	for _, chain := range chains {
		if int64(chain.ChainID) != s.chainID {
			continue
		}
		for _, rpc := range chain.RPC {
			// Only include HTTPS URLs and exclude templated URLs
			if strings.HasPrefix(rpc.URL, "https://") && !strings.Contains(rpc.URL, "${") {
				endpoints = append(endpoints, rpc.URL)
			}
		}
	}
	return endpoints, nil
}

func mergeEndpoints(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, endpoint := range list {
			if seen[endpoint] {
				continue
			}
			seen[endpoint] = true
			merged = append(merged, endpoint)
		}
	}
	return merged
}

// probeBlockNumber performs a simple health check on an RPC endpoint
func probeBlockNumber(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	b, err := DialEthclient(ctx, endpoint)
	if err != nil {
		return false
	}
	defer b.Close()

	_, err = b.BlockNumber(ctx)
	return err == nil
}

// Run refreshes the set every interval until ctx is done
func (s *EndpointSet) Run(ctx context.Context, interval time.Duration, discover bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx, discover); err != nil {
				s.logger.Warn("background endpoint refresh failed", "network", s.network, "error", err)
			}
		}
	}
}
