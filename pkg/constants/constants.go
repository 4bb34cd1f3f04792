package constants

import "time"

const (
	DelayBetweenRPCCalls   = 200              // delay in milliseconds between RPC failover attempts
	ReadTimeout            = 10 * time.Second // timeout for a contract read
	SimulateTimeout        = 15 * time.Second // timeout for simulation and gas estimation
	SendTimeout            = 30 * time.Second // timeout for nonce/fee lookup and broadcast
	ReceiptTimeout         = 5 * time.Minute  // timeout for waiting on a receipt; expiry is an unknown outcome
	ReceiptPollInterval    = 2 * time.Second  // interval between receipt polls
	HealthCheckTimeout     = 3 * time.Second  // timeout for an endpoint health probe
	GatewayTimeout         = 30 * time.Second // timeout for a single gateway fetch
	PinningTimeout         = 5 * time.Minute  // timeout for an upload to the pinning service
	TLSHandshakeTimeout    = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout  = 20 * time.Second // timeout for response header
	ExpectContinueTimeout  = 1 * time.Second  // timeout for expect continue
	GatewayBackoff         = 500 * time.Millisecond
	CacheRefreshInterval   = 5 * time.Second // safety-net refresh for read-through caches
	SharedLoadTimeout      = 2 * time.Minute // bound on a cache load shared by concurrent readers
	MaxResponseBodySize    = 10 * 1024 * 1024
	MaxContentFileSize     = 200 * 1024 * 1024
	DefaultGatewayAttempts = 3
	DefaultConfirmations   = 1
	GasHeadroomPercent     = 20
)

// Royalty policy.
const (
	BPSBase            = 10000
	PlatformPct        = 15
	MaxCreatorPct      = 100 - PlatformPct
	DefaultCreatorPct  = 70
	PriceDecimals      = 18
	PriceMaxFraction   = 2 // fractional digits accepted for a listing price
	PriceMaxIntegerLen = 7 // integer digits accepted for a listing price
)

const (
	DefaultGateway    = "https://gateway.pinata.cloud/ipfs/{cid}"
	DefaultPinningURL = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	ChainListURL      = "https://chainlist.org/rpcs.json"
)

const EndpointRefreshInterval = 6 * time.Hour

// Network Types
const (
	NetworkBSC         = "bsc"
	NetworkBSCTestnet  = "bsc-testnet"
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
	NetworkLocal       = "local"
)

// mapping from network name to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkBSC:         56,
	NetworkBSCTestnet:  97,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkLocal:       31337,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkBSCTestnet: {
		"https://data-seed-prebsc-1-s1.binance.org:8545",
		"https://data-seed-prebsc-2-s1.binance.org:8545",
	},
	NetworkBSC:         {"https://bsc-dataseed.binance.org"},
	NetworkBase:        {"https://mainnet.base.org"},
	NetworkBaseSepolia: {"https://sepolia.base.org"},
	NetworkLocal:       {"http://127.0.0.1:8545"},
}
