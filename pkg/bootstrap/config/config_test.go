package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/retry"
	"github.com/qbitflow/bootstrap/pkg/solana/paymentsystem"
)

var testSecret = base58.Encode(make([]byte, 64))

func writeEnvFile(t *testing.T, name, contents string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestValidateEnvFile(t *testing.T) {
	for _, name := range []string{".env", ".env.test", ".env.production", ".env.local.backup"} {
		path := writeEnvFile(t, name, "")
		assert.NoError(t, ValidateEnvFile(path), name)
	}

	for _, name := range []string{"env", "config.env", ".envrc", ".env."} {
		path := writeEnvFile(t, name, "")
		assert.ErrorIs(t, ValidateEnvFile(path), ErrInvalidEnvFile, name)
	}

	missing := filepath.Join(t.TempDir(), ".env")
	assert.ErrorIs(t, ValidateEnvFile(missing), ErrInvalidEnvFile)

	dir := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.Mkdir(dir, 0700))
	assert.ErrorIs(t, ValidateEnvFile(dir), ErrInvalidEnvFile)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeEnvFile(t, ".env", "SOLANA_NETWORK_URL=http://127.0.0.1:8899\n")

	config, err := Load(Options{EnvFile: path})
	require.NoError(t, err)

	assert.Equal(t, path, config.EnvFile)
	assert.Equal(t, "http://127.0.0.1:8899", config.NetworkURL)
	assert.Empty(t, config.DeployerPrivateKey)
	assert.Equal(t, base58.Encode(paymentsystem.PROGRAM_ID), config.ProgramID)
	assert.EqualValues(t, paymentsystem.PROGRAM_ID, config.ProgramKey())
	assert.Equal(t, MintModeCreateIfAbsent, config.MintMode)
	assert.Equal(t, "deployed-addresses.json", config.ManifestPath)
	assert.Equal(t, filepath.Join("tests", "accounts"), config.AccountsDir)
	assert.Equal(t, retry.DefaultPolicy, config.RPC.Retry)
	assert.Equal(t, 30*time.Second, config.RPC.Timeout)
	assert.Equal(t, RegistryDriverFile, config.Registry.Driver)
	assert.EqualValues(t, 2_000_000_000, config.Funding.Deployer.MinBalance)
	assert.EqualValues(t, 10_000_000_000, config.Funding.Deployer.TopUp)
	assert.EqualValues(t, 5_000_000_000, config.Funding.User.MinBalance)
	assert.EqualValues(t, 1_000_000_000, config.Funding.Merchant.TopUp)
	assert.Equal(t, DefaultTokens(), config.Tokens)
	assert.Equal(t, FaucetAuto, config.Funding.Faucet)
	assert.True(t, config.FaucetAvailable())
}

func TestLoad_Faucet(t *testing.T) {
	for _, tc := range []struct {
		contents string
		expected bool
	}{
		{"SOLANA_NETWORK_URL=https://api.devnet.solana.com", true},
		{"SOLANA_NETWORK_URL=https://api.mainnet-beta.solana.com", false},
		{"SOLANA_NETWORK_URL=https://mainnet.helius-rpc.com/?api-key=abc", false},
		{"SOLANA_NETWORK_URL=https://rpc.example.com\nFUNDING_FAUCET=disabled", false},
		{"SOLANA_NETWORK_URL=https://api.mainnet-beta.solana.com\nFUNDING_FAUCET=enabled", true},
	} {
		path := writeEnvFile(t, ".env", tc.contents)
		config, err := Load(Options{EnvFile: path})
		require.NoError(t, err, tc.contents)
		assert.Equal(t, tc.expected, config.FaucetAvailable(), tc.contents)
	}

	path := writeEnvFile(t, ".env", "SOLANA_NETWORK_URL=http://x\nFUNDING_FAUCET=sometimes")
	_, err := Load(Options{EnvFile: path})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "Faucet must be one of")
}

func TestLoad_FileValues(t *testing.T) {
	path := writeEnvFile(t, ".env.production", `
SOLANA_NETWORK_URL=https://api.devnet.solana.com
SOLANA_WS_URL=wss://api.devnet.solana.com
SOLANA_CONTRACT_OWNER_WALLET_PRIVATE_KEY=`+testSecret+`
BOOTSTRAP_MINT_MODE=always-create
RPC_MAX_ATTEMPTS=5
RPC_BASE_DELAY=250ms
RPC_MAX_DELAY=4s
RPC_REQUESTS_PER_SECOND=8.5
RPC_TIMEOUT=5s
FUNDING_USER_MIN_LAMPORTS=42
BOOTSTRAP_LOCK_ETCD_ENDPOINTS=10.0.0.1:2379,10.0.0.2:2379
COMPUTE_UNIT_PRICE_MICRO_LAMPORTS=1000
`)

	config, err := Load(Options{EnvFile: path})
	require.NoError(t, err)

	assert.Equal(t, "https://api.devnet.solana.com", config.NetworkURL)
	assert.Equal(t, "wss://api.devnet.solana.com", config.WSURL)
	assert.Equal(t, testSecret, config.DeployerPrivateKey)
	assert.Equal(t, MintModeAlwaysCreate, config.MintMode)
	assert.EqualValues(t, 5, config.RPC.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, config.RPC.Retry.BaseDelay)
	assert.Equal(t, 4*time.Second, config.RPC.Retry.MaxDelay)
	assert.Equal(t, 8.5, config.RPC.RequestsPerSecond)
	assert.Equal(t, 5*time.Second, config.RPC.Timeout)
	assert.EqualValues(t, 42, config.Funding.User.MinBalance)
	assert.EqualValues(t, 5_000_000_000, config.Funding.User.TopUp)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, config.Lock.EtcdEndpoints)
	assert.EqualValues(t, 1000, config.PriorityFee.ComputeUnitPrice)
}

func TestLoad_TestTarget(t *testing.T) {
	path := writeEnvFile(t, ".env", `
SOLANA_NETWORK_URL=https://api.mainnet-beta.solana.com
SOLANA_NETWORK_URL_TEST=https://api.devnet.solana.com
SOLANA_CONTRACT_OWNER_WALLET_PRIVATE_KEY_TEST=`+testSecret+`
`)

	config, err := Load(Options{EnvFile: path, Target: TargetTest})
	require.NoError(t, err)
	assert.Equal(t, TargetTest, config.Target)
	assert.Equal(t, "https://api.devnet.solana.com", config.NetworkURL)
	assert.Equal(t, testSecret, config.DeployerPrivateKey)

	config, err = Load(Options{EnvFile: path})
	require.NoError(t, err)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", config.NetworkURL)
	assert.Empty(t, config.DeployerPrivateKey)

	_, err = Load(Options{EnvFile: path, Target: "staging"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingTargetedValue(t *testing.T) {
	path := writeEnvFile(t, ".env", "SOLANA_NETWORK_URL=http://127.0.0.1:8899\n")

	_, err := Load(Options{EnvFile: path, Target: TargetTest})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "SOLANA_NETWORK_URL_TEST is required")
}

func TestLoad_Precedence(t *testing.T) {
	path := writeEnvFile(t, ".env", `
SOLANA_NETWORK_URL=http://127.0.0.1:8899
BOOTSTRAP_MANIFEST_PATH=from-file.json
BOOTSTRAP_ACCOUNTS_DIR=from-file
`)
	t.Setenv("BOOTSTRAP_MANIFEST_PATH", "from-env.json")
	t.Setenv("BOOTSTRAP_ACCOUNTS_DIR", "from-env")

	config, err := Load(Options{
		EnvFile:   path,
		Overrides: map[string]interface{}{"accounts_dir": "from-flag"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env.json", config.ManifestPath)
	assert.Equal(t, "from-flag", config.AccountsDir)

	_, isSet := os.LookupEnv("SOLANA_NETWORK_URL")
	assert.False(t, isSet, "env file values must not leak into the process environment")
}

func TestLoad_ValidationErrors(t *testing.T) {
	for _, tc := range []struct {
		contents string
		expected string
	}{
		{"", "SOLANA_NETWORK_URL is required"},
		{"SOLANA_NETWORK_URL=not a url", "SOLANA_NETWORK_URL must be a URL"},
		{"SOLANA_NETWORK_URL=http://x\nBOOTSTRAP_MINT_MODE=sometimes", "BOOTSTRAP_MINT_MODE must be one of"},
		{"SOLANA_NETWORK_URL=http://x\nQBITFLOW_PROGRAM_ID=abc", "QBITFLOW_PROGRAM_ID must be a base58 encoded public key"},
		{"SOLANA_NETWORK_URL=http://x\nSOLANA_CONTRACT_OWNER_WALLET_PRIVATE_KEY=abc", "must be a base58 encoded 64 byte secret key"},
		{"SOLANA_NETWORK_URL=http://x\nBOOTSTRAP_REGISTRY=postgres", "PostgresURL"},
		{"SOLANA_NETWORK_URL=http://x\nRPC_MAX_ATTEMPTS=0", "rpc retry policy"},
		{"SOLANA_NETWORK_URL=http://x\nNEW_RELIC_LICENSE_KEY=abc", "AppName"},
	} {
		path := writeEnvFile(t, ".env", tc.contents)
		_, err := Load(Options{EnvFile: path})
		require.Error(t, err, tc.contents)
		assert.True(t, errors.Is(err, ErrInvalidConfig), tc.contents)
		assert.Contains(t, err.Error(), tc.expected, tc.contents)
	}
}

func TestLoad_TokensFile(t *testing.T) {
	dir := t.TempDir()
	tokensPath := filepath.Join(dir, "tokens.yaml")
	require.NoError(t, os.WriteFile(tokensPath, []byte(`
tokens:
  - symbol: EURC
    name: Mock EURC
    decimals: 6
    initial_amount: "250.5"
`), 0600))

	path := writeEnvFile(t, ".env", "SOLANA_NETWORK_URL=http://127.0.0.1:8899\nBOOTSTRAP_TOKENS_FILE="+tokensPath+"\n")
	config, err := Load(Options{EnvFile: path})
	require.NoError(t, err)
	require.Len(t, config.Tokens, 1)
	assert.Equal(t, "EURC", config.Tokens[0].Symbol)

	units, err := config.Tokens[0].TargetUnits()
	require.NoError(t, err)
	assert.EqualValues(t, 250_500_000, units)
}
