package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/qbitflow/bootstrap/pkg/retry"
	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/paymentsystem"
)

const lamportsPerSol = 1_000_000_000

// MintMode controls whether a token mint is reused across runs.
type MintMode string

const (
	// MintModeCreateIfAbsent reuses the mint recorded for a symbol when it
	// still exists on chain with the expected parameters.
	MintModeCreateIfAbsent MintMode = "create-if-absent"
	// MintModeAlwaysCreate creates a new mint on every run.
	MintModeAlwaysCreate MintMode = "always-create"
)

// Target selects which set of network settings is read from the env file.
type Target string

const (
	TargetDefault Target = ""
	// TargetTest reads the _TEST suffixed variants.
	TargetTest Target = "test"
)

func (t Target) suffix() string {
	if t == TargetTest {
		return "_TEST"
	}
	return ""
}

// Registry drivers.
const (
	RegistryDriverFile     = "file"
	RegistryDriverMemory   = "memory"
	RegistryDriverPostgres = "postgres"
)

var envFileNamePattern = regexp.MustCompile(`^\.env(\..+)?$`)

var (
	ErrInvalidEnvFile = errors.New("invalid environment file")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Faucet modes.
const (
	// FaucetAuto uses the faucet on every cluster except mainnet.
	FaucetAuto     = "auto"
	FaucetEnabled  = "enabled"
	FaucetDisabled = "disabled"
)

type FundingThreshold struct {
	MinBalance uint64 `mapstructure:"min_balance"`
	TopUp      uint64 `mapstructure:"top_up" validate:"gt=0"`
}

type FundingConfig struct {
	// Faucet is auto, enabled or disabled. Custom mainnet RPC endpoints
	// should set disabled.
	Faucet string `mapstructure:"faucet" validate:"oneof=auto enabled disabled"`

	Deployer FundingThreshold `mapstructure:"deployer"`
	User     FundingThreshold `mapstructure:"user"`
	Merchant FundingThreshold `mapstructure:"merchant"`
}

type RPCConfig struct {
	Retry retry.Policy `mapstructure:",squash"`

	// RequestsPerSecond caps the request rate against the node. Zero means
	// unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`

	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type PriorityFeeConfig struct {
	ComputeUnitLimit uint32 `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`
}

type RegistryConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=file memory postgres"`
	PostgresURL string `mapstructure:"postgres_url" validate:"required_if=Driver postgres"`
}

type LockConfig struct {
	// EtcdEndpoints enables a distributed run lock. An empty list uses an
	// in-process lock.
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints" validate:"dive,required"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=1s"`
}

type NewRelicConfig struct {
	AppName    string `mapstructure:"app_name" validate:"required_with=LicenseKey"`
	LicenseKey string `mapstructure:"license_key"`
}

// Config is the complete configuration of a bootstrap run. It is built once
// by Load and passed explicitly to every component.
type Config struct {
	EnvFile string `mapstructure:"-"`
	Target  Target `mapstructure:"-"`

	NetworkURL         string `mapstructure:"network_url" validate:"required,url"`
	WSURL              string `mapstructure:"ws_url" validate:"omitempty,url"`
	DeployerPrivateKey string `mapstructure:"deployer_private_key" validate:"omitempty,solana_secret_key"`

	ProgramID    string   `mapstructure:"program_id" validate:"required,solana_public_key"`
	AccountsDir  string   `mapstructure:"accounts_dir" validate:"required"`
	ManifestPath string   `mapstructure:"manifest_path" validate:"required"`
	MintMode     MintMode `mapstructure:"mint_mode" validate:"oneof=create-if-absent always-create"`
	TokensFile   string   `mapstructure:"tokens_file"`
	ShowSecrets  bool     `mapstructure:"show_secrets"`

	Tokens []TokenDescriptor `mapstructure:"-" validate:"min=1,unique=Symbol,dive"`

	RPC         RPCConfig         `mapstructure:"rpc"`
	PriorityFee PriorityFeeConfig `mapstructure:"priority_fee"`
	Funding     FundingConfig     `mapstructure:"funding"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Lock        LockConfig        `mapstructure:"lock"`
	NewRelic    NewRelicConfig    `mapstructure:"new_relic"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
}

// Network identifies the cluster resources are provisioned on.
func (c *Config) Network() string {
	return strings.TrimRight(c.NetworkURL, "/")
}

// FaucetAvailable reports whether airdrops may be requested on the
// configured network.
func (c *Config) FaucetAvailable() bool {
	switch c.Funding.Faucet {
	case FaucetEnabled:
		return true
	case FaucetDisabled:
		return false
	default:
		return solana.Environment(c.Network()).SupportsAirdrop()
	}
}

// ProgramKey returns the decoded payment system program address.
func (c *Config) ProgramKey() []byte {
	key, _ := base58.Decode(c.ProgramID)
	return key
}

func defaultConfig() Config {
	return Config{
		ProgramID:    base58.Encode(paymentsystem.PROGRAM_ID),
		AccountsDir:  filepath.Join("tests", "accounts"),
		ManifestPath: "deployed-addresses.json",
		MintMode:     MintModeCreateIfAbsent,

		RPC: RPCConfig{
			Retry:   retry.DefaultPolicy,
			Timeout: 30 * time.Second,
		},

		Funding: FundingConfig{
			Faucet:   FaucetAuto,
			Deployer: FundingThreshold{MinBalance: 2 * lamportsPerSol, TopUp: 10 * lamportsPerSol},
			User:     FundingThreshold{MinBalance: 5 * lamportsPerSol, TopUp: 5 * lamportsPerSol},
			Merchant: FundingThreshold{MinBalance: 1 * lamportsPerSol, TopUp: 1 * lamportsPerSol},
		},

		Registry: RegistryConfig{
			Driver: RegistryDriverFile,
		},

		Lock: LockConfig{
			TTL: 30 * time.Second,
		},

		LogLevel:  "info",
		LogFormat: "text",
	}
}

type binding struct {
	key      string
	env      string
	targeted bool
}

var bindings = []binding{
	{key: "network_url", env: "SOLANA_NETWORK_URL", targeted: true},
	{key: "ws_url", env: "SOLANA_WS_URL", targeted: true},
	{key: "deployer_private_key", env: "SOLANA_CONTRACT_OWNER_WALLET_PRIVATE_KEY", targeted: true},

	{key: "program_id", env: "QBITFLOW_PROGRAM_ID"},
	{key: "accounts_dir", env: "BOOTSTRAP_ACCOUNTS_DIR"},
	{key: "manifest_path", env: "BOOTSTRAP_MANIFEST_PATH"},
	{key: "mint_mode", env: "BOOTSTRAP_MINT_MODE"},
	{key: "tokens_file", env: "BOOTSTRAP_TOKENS_FILE"},

	{key: "rpc.max_attempts", env: "RPC_MAX_ATTEMPTS"},
	{key: "rpc.base_delay", env: "RPC_BASE_DELAY"},
	{key: "rpc.max_delay", env: "RPC_MAX_DELAY"},
	{key: "rpc.jitter", env: "RPC_JITTER"},
	{key: "rpc.requests_per_second", env: "RPC_REQUESTS_PER_SECOND"},
	{key: "rpc.timeout", env: "RPC_TIMEOUT"},

	{key: "priority_fee.compute_unit_limit", env: "COMPUTE_UNIT_LIMIT"},
	{key: "priority_fee.compute_unit_price", env: "COMPUTE_UNIT_PRICE_MICRO_LAMPORTS"},

	{key: "funding.faucet", env: "FUNDING_FAUCET"},
	{key: "funding.deployer.min_balance", env: "FUNDING_DEPLOYER_MIN_LAMPORTS"},
	{key: "funding.deployer.top_up", env: "FUNDING_DEPLOYER_TOP_UP_LAMPORTS"},
	{key: "funding.user.min_balance", env: "FUNDING_USER_MIN_LAMPORTS"},
	{key: "funding.user.top_up", env: "FUNDING_USER_TOP_UP_LAMPORTS"},
	{key: "funding.merchant.min_balance", env: "FUNDING_MERCHANT_MIN_LAMPORTS"},
	{key: "funding.merchant.top_up", env: "FUNDING_MERCHANT_TOP_UP_LAMPORTS"},

	{key: "registry.driver", env: "BOOTSTRAP_REGISTRY"},
	{key: "registry.postgres_url", env: "BOOTSTRAP_REGISTRY_POSTGRES_URL"},

	{key: "lock.etcd_endpoints", env: "BOOTSTRAP_LOCK_ETCD_ENDPOINTS"},
	{key: "lock.ttl", env: "BOOTSTRAP_LOCK_TTL"},

	{key: "new_relic.app_name", env: "NEW_RELIC_APP_NAME"},
	{key: "new_relic.license_key", env: "NEW_RELIC_LICENSE_KEY"},

	{key: "log_level", env: "LOG_LEVEL"},
	{key: "log_format", env: "LOG_FORMAT"},
}

// Options are the inputs to Load that do not come from the env file.
type Options struct {
	EnvFile string
	Target  Target

	// Overrides take precedence over both the env file and the process
	// environment. Keys are the viper keys, e.g. "mint_mode".
	Overrides map[string]interface{}
}

// ValidateEnvFile checks that path names an existing .env style file
// (.env, .env.test, .env.production, ...).
func ValidateEnvFile(path string) error {
	if !envFileNamePattern.MatchString(filepath.Base(path)) {
		return errors.Wrapf(ErrInvalidEnvFile, "%s: expected .env, .env.test, .env.production, etc.", path)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrInvalidEnvFile, "%s does not exist", path)
	} else if err != nil {
		return errors.Wrapf(ErrInvalidEnvFile, "%s: %v", path, err)
	}
	if info.IsDir() {
		return errors.Wrapf(ErrInvalidEnvFile, "%s is a directory", path)
	}

	return nil
}

// Load builds the configuration from the env file, the process environment
// and opts.Overrides, in increasing order of precedence.
//
// The env file is parsed without modifying the process environment.
func Load(opts Options) (*Config, error) {
	if opts.Target != TargetDefault && opts.Target != TargetTest {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown target %q", opts.Target)
	}

	if err := ValidateEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	fileValues, err := godotenv.Read(opts.EnvFile)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidEnvFile, "%s: %v", opts.EnvFile, err)
	}

	v := viper.New()

	fromFile := make(map[string]interface{})
	for _, b := range bindings {
		env := b.env
		if b.targeted {
			env += opts.Target.suffix()
		}

		if value, ok := fileValues[env]; ok {
			setPath(fromFile, b.key, value)
		}
		if err := v.BindEnv(b.key, env); err != nil {
			return nil, errors.Wrapf(err, "failed to bind %s", env)
		}
	}
	if err := v.MergeConfigMap(fromFile); err != nil {
		return nil, errors.Wrap(err, "failed to merge env file values")
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	config := defaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "failed to unmarshal: %v", err)
	}
	config.EnvFile = opts.EnvFile
	config.Target = opts.Target

	if len(config.TokensFile) > 0 {
		config.Tokens, err = LoadTokens(config.TokensFile)
		if err != nil {
			return nil, err
		}
	} else {
		config.Tokens = DefaultTokens()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setPath sets a dotted key in a nested map, the shape viper expects from
// MergeConfigMap.
func setPath(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}
