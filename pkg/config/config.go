package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/ebook"
	"github.com/sigweihq/ebookpay/pkg/ownership"
	"github.com/sigweihq/ebookpay/pkg/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Network               string    `yaml:"network"`
	RPCEndpoints          []string  `yaml:"rpc_endpoints"`
	ChainID               int64     `yaml:"chain_id"`
	Contracts             Contracts `yaml:"contracts"`
	Gateway               string    `yaml:"gateway"`
	Pinning               Pinning   `yaml:"pinning"`
	PrivateKey            string    `yaml:"private_key"`
	Timeouts              Timeouts  `yaml:"timeouts"`
	Confirmations         uint64    `yaml:"confirmations"`
	GatewayAttempts       int       `yaml:"gateway_attempts"`
	CacheRefresh          Duration  `yaml:"cache_refresh"`
	DirectOwnershipLookup bool      `yaml:"direct_ownership_lookup"`
}

type Contracts struct {
	NFT        string `yaml:"nft"`
	Sales      string `yaml:"sales"`
	Revenue    string `yaml:"revenue"`
	SalesToken string `yaml:"sales_token"`
	FeeToken   string `yaml:"fee_token"`
}

type Pinning struct {
	URL string `yaml:"url"`
	JWT string `yaml:"jwt"`
}

type Timeouts struct {
	Read     Duration `yaml:"read"`
	Simulate Duration `yaml:"simulate"`
	Receipt  Duration `yaml:"receipt"`
}

// Duration reads Go duration strings such as "30s" or "5m"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(expandEnv(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q at line %d: %w", s, value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Flags are command-line overrides; empty values fall through to the file
type Flags struct {
	Network    string
	RPCURL     string
	Gateway    string
	PrivateKey string
	PinningJWT string
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Network = expandEnv(cfg.Network)
	for i, endpoint := range cfg.RPCEndpoints {
		cfg.RPCEndpoints[i] = expandEnv(endpoint)
	}
	cfg.Contracts.NFT = expandEnv(cfg.Contracts.NFT)
	cfg.Contracts.Sales = expandEnv(cfg.Contracts.Sales)
	cfg.Contracts.Revenue = expandEnv(cfg.Contracts.Revenue)
	cfg.Contracts.SalesToken = expandEnv(cfg.Contracts.SalesToken)
	cfg.Contracts.FeeToken = expandEnv(cfg.Contracts.FeeToken)
	cfg.Gateway = expandEnv(cfg.Gateway)
	cfg.Pinning.URL = expandEnv(cfg.Pinning.URL)
	cfg.Pinning.JWT = expandEnv(cfg.Pinning.JWT)
	cfg.PrivateKey = expandEnv(cfg.PrivateKey)

	return &cfg, nil
}

// Validate reports the first missing or malformed required field
func (c *Config) Validate(flags *Flags) error {
	if _, err := c.GetChainID(flags); err != nil {
		return err
	}
	if _, err := c.GetContracts(); err != nil {
		return err
	}
	if c.GatewayAttempts < 0 {
		return fmt.Errorf("gateway_attempts cannot be negative")
	}
	return nil
}

func (c *Config) GetNetwork(flags *Flags) string {
	if flags != nil && flags.Network != "" {
		return flags.Network
	}
	if c.Network != "" {
		return c.Network
	}
	return constants.NetworkBSCTestnet
}

func (c *Config) GetChainID(flags *Flags) (int64, error) {
	if c.ChainID != 0 {
		return c.ChainID, nil
	}
	network := c.GetNetwork(flags)
	id, ok := constants.NetworkToChainID[network]
	if !ok {
		return 0, fmt.Errorf("network %q is not supported (set chain_id in config for a custom network)", network)
	}
	return id, nil
}

// GetRPCEndpoints returns nil when nothing is configured, leaving the choice to the
// official endpoints of the network
func (c *Config) GetRPCEndpoints(flags *Flags) []string {
	if flags != nil && flags.RPCURL != "" {
		return splitList(flags.RPCURL)
	}
	var endpoints []string
	for _, endpoint := range c.RPCEndpoints {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints
}

func (c *Config) GetGateway(flags *Flags) string {
	if flags != nil && flags.Gateway != "" {
		return flags.Gateway
	}
	if c.Gateway != "" {
		return c.Gateway
	}
	return constants.DefaultGateway
}

func (c *Config) GetPrivateKey(flags *Flags) (string, error) {
	if flags != nil && flags.PrivateKey != "" {
		return flags.PrivateKey, nil
	}
	if c.PrivateKey != "" {
		return c.PrivateKey, nil
	}
	return "", fmt.Errorf("private_key is required to send transactions (set in config or pass --private-key flag)")
}

func (c *Config) GetPinningURL() string {
	if c.Pinning.URL != "" {
		return c.Pinning.URL
	}
	return constants.DefaultPinningURL
}

func (c *Config) GetPinningJWT(flags *Flags) (string, error) {
	if flags != nil && flags.PinningJWT != "" {
		return flags.PinningJWT, nil
	}
	if c.Pinning.JWT != "" {
		return c.Pinning.JWT, nil
	}
	return "", fmt.Errorf("pinning.jwt is required to upload (set in config or pass --pinning-jwt flag)")
}

// GetContracts parses the contract addresses; revenue is optional
func (c *Config) GetContracts() (ebook.Contracts, error) {
	var out ebook.Contracts
	fields := []struct {
		name     string
		value    string
		dst      *common.Address
		optional bool
	}{
		{name: "contracts.nft", value: c.Contracts.NFT, dst: &out.NFT},
		{name: "contracts.sales", value: c.Contracts.Sales, dst: &out.Sales},
		{name: "contracts.revenue", value: c.Contracts.Revenue, dst: &out.Revenue, optional: true},
		{name: "contracts.sales_token", value: c.Contracts.SalesToken, dst: &out.SalesToken},
		{name: "contracts.fee_token", value: c.Contracts.FeeToken, dst: &out.FeeToken},
	}

	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			if f.optional {
				continue
			}
			return ebook.Contracts{}, fmt.Errorf("%s is required", f.name)
		}
		addr, err := types.ParseAddress(f.value)
		if err != nil {
			return ebook.Contracts{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = addr
	}
	return out, nil
}

func (c *Config) GetReadTimeout() time.Duration {
	return orDefault(c.Timeouts.Read, constants.ReadTimeout)
}

func (c *Config) GetSimulateTimeout() time.Duration {
	return orDefault(c.Timeouts.Simulate, constants.SimulateTimeout)
}

func (c *Config) GetReceiptTimeout() time.Duration {
	return orDefault(c.Timeouts.Receipt, constants.ReceiptTimeout)
}

func (c *Config) GetConfirmations() uint64 {
	if c.Confirmations > 0 {
		return c.Confirmations
	}
	return constants.DefaultConfirmations
}

func (c *Config) GetGatewayAttempts() int {
	if c.GatewayAttempts > 0 {
		return c.GatewayAttempts
	}
	return constants.DefaultGatewayAttempts
}

func (c *Config) GetCacheRefresh() time.Duration {
	return orDefault(c.CacheRefresh, constants.CacheRefreshInterval)
}

func (c *Config) GetOwnershipStrategy() ownership.Strategy {
	if c.DirectOwnershipLookup {
		return ownership.Direct
	}
	return ownership.Enumerate
}

func orDefault(d Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && strings.Count(s, "${") == 1 {
		envVar := s[2 : len(s)-1]
		return os.Getenv(envVar)
	}
	return os.ExpandEnv(s)
}
