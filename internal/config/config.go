// Package config loads deployer configuration from flags, environment,
// an optional config file and a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable except the Chainlink ones.
const EnvPrefix = "EXALOTTO"

// Defaults.
const (
	DefaultRPCURL             = "http://127.0.0.1:8545"
	DefaultCallbackGasLimit   = 2_500_000
	DefaultConfirmations      = 1
	DefaultDeploymentAttempts = 3
	DefaultRetryDelay         = 2 * time.Second
	DefaultArtifactsDir       = "artifacts"
	DefaultConfigFile         = "exalotto.yaml"
)

// ErrNoSignerSource is returned when neither private keys nor a remote
// signer are configured.
var ErrNoSignerSource = errors.New("config: private_keys or signer_url is required")

// Config holds the deployer configuration.
type Config struct {
	RPCURL       string   `mapstructure:"rpc_url" yaml:"rpc_url" validate:"required,url"`
	ChainID      uint64   `mapstructure:"chain_id" yaml:"chain_id"`
	PrivateKeys  []string `mapstructure:"private_keys" yaml:"private_keys,omitempty"`
	SignerURL    string   `mapstructure:"signer_url" yaml:"signer_url,omitempty" validate:"omitempty,url"`
	SignerAPIKey string   `mapstructure:"signer_api_key" yaml:"signer_api_key,omitempty"`

	// Owner receives the token supply and the controller admin role
	Owner string `mapstructure:"owner" yaml:"owner,omitempty" validate:"omitempty,eth_addr"`

	VRFCoordinator   string `mapstructure:"vrf_coordinator" yaml:"vrf_coordinator,omitempty" validate:"omitempty,eth_addr"`
	VRFKeyHash       string `mapstructure:"vrf_key_hash" yaml:"vrf_key_hash,omitempty" validate:"omitempty,hexadecimal,len=66"`
	CallbackGasLimit uint32 `mapstructure:"callback_gas_limit" yaml:"callback_gas_limit" validate:"min=1"`
	MockVRF          bool   `mapstructure:"mock_vrf" yaml:"mock_vrf"`
	// VRFSubscriptionID is the mock coordinator subscription, 0 means the first
	VRFSubscriptionID uint64 `mapstructure:"vrf_subscription_id" yaml:"vrf_subscription_id,omitempty"`

	Confirmations      uint64        `mapstructure:"confirmations" yaml:"confirmations" validate:"min=1"`
	DeploymentAttempts int           `mapstructure:"deployment_attempts" yaml:"deployment_attempts" validate:"min=1"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"min=0"`
	NonceOverride      *uint64       `mapstructure:"nonce_override" yaml:"nonce_override,omitempty"`

	ArtifactsDir    string `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
	ArtifactsURL    string `mapstructure:"artifacts_url" yaml:"artifacts_url,omitempty" validate:"omitempty,url"`
	ArtifactsSHA256 string `mapstructure:"artifacts_sha256" yaml:"artifacts_sha256,omitempty"`

	JournalDSN     string `mapstructure:"journal_dsn" yaml:"journal_dsn,omitempty"`
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url,omitempty" validate:"omitempty,url"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty" validate:"omitempty,url"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" validate:"oneof=text json"`
}

// envBindings maps keys to environment variables that do not follow the
// prefix convention.
var envBindings = map[string]string{
	"vrf_coordinator": "CHAINLINK_VRF_COORDINATOR",
	"vrf_key_hash":    "CHAINLINK_VRF_KEY_HASH",
}

// keys lists every configuration key so that environment variables are
// visible to Unmarshal even without a default.
var keys = []string{
	"rpc_url", "chain_id", "private_keys", "signer_url", "signer_api_key", "owner",
	"vrf_coordinator", "vrf_key_hash", "callback_gas_limit", "mock_vrf", "vrf_subscription_id",
	"confirmations", "deployment_attempts", "retry_delay", "nonce_override",
	"artifacts_dir", "artifacts_url", "artifacts_sha256",
	"journal_dsn", "pushgateway_url", "otlp_endpoint", "log_level", "log_format",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", DefaultRPCURL)
	v.SetDefault("chain_id", 0)
	v.SetDefault("callback_gas_limit", DefaultCallbackGasLimit)
	v.SetDefault("confirmations", DefaultConfirmations)
	v.SetDefault("deployment_attempts", DefaultDeploymentAttempts)
	v.SetDefault("retry_delay", DefaultRetryDelay.String())
	v.SetDefault("artifacts_dir", DefaultArtifactsDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// BindEnv enables environment overrides on v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range keys {
		var err error
		if env, ok := envBindings[key]; ok {
			err = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env)
		} else {
			err = v.BindEnv(key)
		}
		if err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; variables already set take precedence.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ReadFile reads configFile into v. An empty configFile looks for
// DefaultConfigFile in the working directory and tolerates its absence.
func ReadFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		return nil
	}

	v.SetConfigFile(DefaultConfigFile)
	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return fmt.Errorf("parse config file: %w", err)
		}
	}
	return nil
}

// Load builds a validated Config from v, which already has its defaults,
// environment bindings, flags and file applied.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PrivateKeys = splitKeys(cfg.PrivateKeys)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New is a convenience that applies defaults, environment and configFile to
// a fresh viper instance and loads the result.
func New(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	if err := ReadFile(v, configFile); err != nil {
		return nil, err
	}
	return Load(v)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field rules and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RequireSigner reports whether an identity source is configured.
func (c *Config) RequireSigner() error {
	if len(c.PrivateKeys) == 0 && c.SignerURL == "" {
		return ErrNoSignerSource
	}
	return nil
}

// OwnerAddress returns the configured owner, or the zero address.
func (c *Config) OwnerAddress() common.Address {
	if c.Owner == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Owner)
}

// CoordinatorAddress returns the configured VRF coordinator, or the zero
// address.
func (c *Config) CoordinatorAddress() common.Address {
	if c.VRFCoordinator == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.VRFCoordinator)
}

// Redacted returns a copy safe for display.
func (c Config) Redacted() Config {
	if len(c.PrivateKeys) > 0 {
		masked := make([]string, len(c.PrivateKeys))
		for i := range masked {
			masked[i] = "<redacted>"
		}
		c.PrivateKeys = masked
	}
	if c.SignerAPIKey != "" {
		c.SignerAPIKey = "<redacted>"
	}
	if c.JournalDSN != "" {
		c.JournalDSN = "<redacted>"
	}
	return c
}

func splitKeys(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, k := range strings.Split(entry, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

// NewLogger creates a logger writing to w with the configured level and
// format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
