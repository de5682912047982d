package recovery

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/openbridge-labs/cctp-recovery/pkg/attest"
)

// ChainConfig describes one chain the recovery service talks to.
type ChainConfig struct {
	Name    string `toml:"name"`
	ChainID int64  `toml:"chain_id"`
	// RPCURLs is the failover order: the primary endpoint first, public
	// fallbacks after.
	RPCURLs            []string `toml:"rpc_urls"`
	MessageTransmitter string   `toml:"message_transmitter"`
	USDCToken          string   `toml:"usdc_token"`
	// Domain is the chain's domain identifier in the attestation API.
	Domain uint32 `toml:"domain"`
	// ReceiptScanBlocks is how far back destination log scans reach.
	ReceiptScanBlocks uint64 `toml:"receipt_scan_blocks"`
}

// TransmitterAddress parses the configured transmitter address.
func (c *ChainConfig) TransmitterAddress() common.Address {
	return common.HexToAddress(c.MessageTransmitter)
}

// TokenAddress parses the configured USDC token address.
func (c *ChainConfig) TokenAddress() common.Address {
	return common.HexToAddress(c.USDCToken)
}

func (c *ChainConfig) validate(label string) error {
	if c.Name == "" {
		return fmt.Errorf("%s: name is required", label)
	}
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("%s: at least one rpc url is required", label)
	}
	if !common.IsHexAddress(c.MessageTransmitter) {
		return fmt.Errorf("%s: message_transmitter %q is not a valid address", label, c.MessageTransmitter)
	}
	if !common.IsHexAddress(c.USDCToken) {
		return fmt.Errorf("%s: usdc_token %q is not a valid address", label, c.USDCToken)
	}
	return nil
}

// AttestationConfig configures the attestation API client.
type AttestationConfig struct {
	APIURL string `toml:"api_url"`
	// APIIntervalSeconds spaces consecutive API requests.
	APIIntervalSeconds int `toml:"api_interval_seconds"`
	// APITimeoutSeconds bounds a single API request.
	APITimeoutSeconds int `toml:"api_timeout_seconds"`
	// CoolDownSeconds applies after a 429 without a Retry-After header.
	CoolDownSeconds int `toml:"cool_down_seconds"`
	// MaxAttempts is the polling budget per recovery invocation.
	MaxAttempts int `toml:"max_attempts"`
	// PollIntervalSeconds is the pause between polling attempts.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// RegistryConfig configures bridge-registry persistence.
type RegistryConfig struct {
	// DBPath is the SQLite file for tracked bridges. Empty disables
	// persistence; the registry then lives in memory only.
	DBPath string `toml:"db_path"`
}

// RunnerConfig configures the periodic re-check loop and the HTTP listener.
type RunnerConfig struct {
	// ListenAddress serves the recovery API, health, and metrics.
	ListenAddress string `toml:"listen_address"`
	// RecheckIntervalSeconds is how often registered pending bridges are
	// retried.
	RecheckIntervalSeconds int `toml:"recheck_interval_seconds"`
	// MaxConcurrentRecoveries bounds parallel recovery invocations.
	MaxConcurrentRecoveries int `toml:"max_concurrent_recoveries"`
}

// Config is the full service configuration, loaded from TOML.
type Config struct {
	SourceChain      ChainConfig       `toml:"source_chain"`
	DestinationChain ChainConfig       `toml:"destination_chain"`
	Attestation      AttestationConfig `toml:"attestation"`
	Registry         RegistryConfig    `toml:"registry"`
	Runner           RunnerConfig      `toml:"runner"`
}

// Defaults applied to zero-valued optional fields.
const (
	defaultAPIIntervalSeconds      = 2
	defaultAPITimeoutSeconds       = 10
	defaultCoolDownSeconds         = 300
	defaultMaxAttempts             = 10
	defaultPollIntervalSeconds     = 5
	defaultReceiptScanBlocks       = 10_000
	defaultRecheckIntervalSeconds  = 120
	defaultMaxConcurrentRecoveries = 4
	defaultListenAddress           = ":8080"
	defaultAttestationAPIURL       = "https://iris-api.circle.com"
)

// LoadConfig reads and validates the TOML configuration at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Attestation.APIURL == "" {
		c.Attestation.APIURL = defaultAttestationAPIURL
	}
	if c.Attestation.APIIntervalSeconds == 0 {
		c.Attestation.APIIntervalSeconds = defaultAPIIntervalSeconds
	}
	if c.Attestation.APITimeoutSeconds == 0 {
		c.Attestation.APITimeoutSeconds = defaultAPITimeoutSeconds
	}
	if c.Attestation.CoolDownSeconds == 0 {
		c.Attestation.CoolDownSeconds = defaultCoolDownSeconds
	}
	if c.Attestation.MaxAttempts == 0 {
		c.Attestation.MaxAttempts = defaultMaxAttempts
	}
	if c.Attestation.PollIntervalSeconds == 0 {
		c.Attestation.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.SourceChain.ReceiptScanBlocks == 0 {
		c.SourceChain.ReceiptScanBlocks = defaultReceiptScanBlocks
	}
	if c.DestinationChain.ReceiptScanBlocks == 0 {
		c.DestinationChain.ReceiptScanBlocks = defaultReceiptScanBlocks
	}
	if c.Runner.RecheckIntervalSeconds == 0 {
		c.Runner.RecheckIntervalSeconds = defaultRecheckIntervalSeconds
	}
	if c.Runner.MaxConcurrentRecoveries == 0 {
		c.Runner.MaxConcurrentRecoveries = defaultMaxConcurrentRecoveries
	}
	if c.Runner.ListenAddress == "" {
		c.Runner.ListenAddress = defaultListenAddress
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.SourceChain.validate("source_chain"); err != nil {
		return err
	}
	if err := c.DestinationChain.validate("destination_chain"); err != nil {
		return err
	}
	if c.DestinationChain.ChainID == 0 {
		return fmt.Errorf("destination_chain: chain_id is required for transaction signing")
	}
	if c.SourceChain.Domain == c.DestinationChain.Domain {
		return fmt.Errorf("source and destination domains must differ, both are %d", c.SourceChain.Domain)
	}
	if c.Attestation.MaxAttempts < 1 {
		return fmt.Errorf("attestation: max_attempts must be at least 1, got %d", c.Attestation.MaxAttempts)
	}
	return nil
}

// AttestationClientConfig converts the TOML section into the attest package
// configuration.
func (c *Config) AttestationClientConfig() attest.Config {
	a := c.Attestation
	return attest.Config{
		APIURL:           a.APIURL,
		APIInterval:      time.Duration(a.APIIntervalSeconds) * time.Second,
		APITimeout:       time.Duration(a.APITimeoutSeconds) * time.Second,
		CoolDownDuration: time.Duration(a.CoolDownSeconds) * time.Second,
		MaxAttempts:      a.MaxAttempts,
		PollInterval:     time.Duration(a.PollIntervalSeconds) * time.Second,
	}
}

// RecheckInterval returns the pending-bridge retry cadence.
func (c *Config) RecheckInterval() time.Duration {
	return time.Duration(c.Runner.RecheckIntervalSeconds) * time.Second
}
