package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigTOML = `
[source_chain]
name = "ethereum"
chain_id = 1
rpc_urls = ["https://eth.llamarpc.com", "https://rpc.ankr.com/eth"]
message_transmitter = "0x81D40F21F12A8F0E3252Bccb954D722d4c464B64"
usdc_token = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
domain = 0

[destination_chain]
name = "base"
chain_id = 8453
rpc_urls = ["https://mainnet.base.org"]
message_transmitter = "0x81D40F21F12A8F0E3252Bccb954D722d4c464B64"
usdc_token = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
domain = 6

[attestation]
api_url = "https://iris-api.circle.com"
max_attempts = 20
poll_interval_seconds = 3

[registry]
db_path = "bridges.db"

[runner]
listen_address = ":9090"
recheck_interval_seconds = 60
max_concurrent_recoveries = 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigTOML))
	require.NoError(t, err)

	assert.Equal(t, "ethereum", cfg.SourceChain.Name)
	assert.Equal(t, uint32(6), cfg.DestinationChain.Domain)
	assert.Len(t, cfg.SourceChain.RPCURLs, 2)
	assert.Equal(t, 20, cfg.Attestation.MaxAttempts)
	assert.Equal(t, "bridges.db", cfg.Registry.DBPath)
	assert.Equal(t, ":9090", cfg.Runner.ListenAddress)
	assert.Equal(t, time.Minute, cfg.RecheckInterval())

	// Unset knobs pick up defaults.
	assert.Equal(t, uint64(defaultReceiptScanBlocks), cfg.SourceChain.ReceiptScanBlocks)
	assert.Equal(t, defaultAPIIntervalSeconds, cfg.Attestation.APIIntervalSeconds)

	ac := cfg.AttestationClientConfig()
	assert.Equal(t, "https://iris-api.circle.com", ac.APIURL)
	assert.Equal(t, 3*time.Second, ac.PollInterval)
	assert.Equal(t, 20, ac.MaxAttempts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		message string
	}{
		{
			name:    "missing rpc urls",
			mutate:  func(cfg *Config) { cfg.SourceChain.RPCURLs = nil },
			message: "rpc url",
		},
		{
			name:    "bad transmitter address",
			mutate:  func(cfg *Config) { cfg.DestinationChain.MessageTransmitter = "not-an-address" },
			message: "message_transmitter",
		},
		{
			name:    "bad token address",
			mutate:  func(cfg *Config) { cfg.SourceChain.USDCToken = "0x123" },
			message: "usdc_token",
		},
		{
			name:    "same domains",
			mutate:  func(cfg *Config) { cfg.DestinationChain.Domain = cfg.SourceChain.Domain },
			message: "domains must differ",
		},
		{
			name:    "missing destination chain id",
			mutate:  func(cfg *Config) { cfg.DestinationChain.ChainID = 0 },
			message: "chain_id",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, validConfigTOML))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestChainConfig_AddressParsing(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigTOML))
	require.NoError(t, err)
	assert.Equal(t, "0x81D40F21F12A8F0E3252Bccb954D722d4c464B64", cfg.SourceChain.TransmitterAddress().Hex())
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", cfg.DestinationChain.TokenAddress().Hex())
}
