// Package config loads chipdesk configuration from defaults, an optional
// config file, a .env file, the environment and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cmatc13/chipdesk/pkg/errors"
)

// EnvPrefix is prepended to every environment variable viper looks up.
const EnvPrefix = "CHIPDESK"

// ErrMissingCredentials is returned by RequireCredentials when the auth token
// or the contract address is not configured.
var ErrMissingCredentials = errors.NewChipError(
	errors.ChipErrMissingCredentials,
	"auth token and contract address must be configured",
	errors.ErrPrecondition,
)

// Config holds all configuration for the application
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Lumx    LumxConfig    `mapstructure:"lumx"`
	Poll    PollConfig    `mapstructure:"poll"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Port               string        `mapstructure:"port"`
	Version            string        `mapstructure:"version"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	RateLimit          int           `mapstructure:"rate_limit"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

// LumxConfig holds the remote wallet/transaction API settings
type LumxConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	AuthToken       string        `mapstructure:"auth_token"`
	ContractAddress string        `mapstructure:"contract_address"`
	ExplorerURL     string        `mapstructure:"explorer_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// PollConfig holds the confirmation polling cadence
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds Redis settings used for the shared in-flight lease
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka settings for outcome events. Empty brokers disables publishing.
type KafkaConfig struct {
	Brokers  string `mapstructure:"brokers"`
	ClientID string `mapstructure:"client_id"`
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an optional YAML/TOML/JSON file.
	ConfigFile string
	// EnvFile is an optional dotenv file; a missing file is not an error.
	EnvFile string
	// Flags, when set, override every other source for flags the user changed.
	Flags *pflag.FlagSet
}

// DefaultLoadOptions returns options that read ./.env and the environment.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{EnvFile: ".env"}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"port":          "api.port",
	"log-level":     "log.level",
	"lumx-url":      "lumx.base_url",
	"contract":      "lumx.contract_address",
	"poll-interval": "poll.interval",
	"poll-timeout":  "poll.timeout",
	"kafka-brokers": "kafka.brokers",
	"redis-address": "redis.address",
}

// RegisterFlags defines the flags understood by LoadWithOptions on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.String("env-file", ".env", "Path to dotenv file")
	fs.String("port", "", "HTTP listen port")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("lumx-url", "", "Base URL of the wallet/transaction API")
	fs.String("contract", "", "Target contract address")
	fs.Duration("poll-interval", 0, "Interval between confirmation polls")
	fs.Duration("poll-timeout", 0, "Deadline for observing a transaction hash")
	fs.String("kafka-brokers", "", "Kafka bootstrap servers for outcome events")
	fs.String("redis-address", "", "Redis address for the shared in-flight lease")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.version", "v1")
	v.SetDefault("api.cors_allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit", 60)
	v.SetDefault("api.shutdown_timeout", 15*time.Second)

	v.SetDefault("lumx.base_url", "https://protocol-sandbox.lumx.io/v2")
	v.SetDefault("lumx.auth_token", "")
	v.SetDefault("lumx.contract_address", "")
	v.SetDefault("lumx.explorer_url", "https://amoy.polygonscan.com")
	v.SetDefault("lumx.request_timeout", 10*time.Second)

	v.SetDefault("poll.interval", 2*time.Second)
	v.SetDefault("poll.timeout", 10*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chipdesk:")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.client_id", "chipdesk")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.namespace", "chipdesk")
}

// Load loads configuration with DefaultLoadOptions.
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration. Precedence, lowest first: defaults,
// config file, dotenv file, environment, changed flags.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		// godotenv never overrides variables already present in the environment.
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Aliases for deployments that still export the front-end variable names.
	_ = v.BindEnv("lumx.auth_token", EnvPrefix+"_LUMX_AUTH_TOKEN", "LUMX_AUTH_TOKEN", "REACT_APP_AUTH_TOKEN")
	_ = v.BindEnv("lumx.contract_address", EnvPrefix+"_LUMX_CONTRACT_ADDRESS", "LUMX_CONTRACT_ID", "REACT_APP_CONTRACT_ID")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural values. Credentials are checked separately by
// RequireCredentials because the server may start without them.
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.Timeout <= 0 {
		return fmt.Errorf("poll.timeout must be positive, got %s", c.Poll.Timeout)
	}
	if c.Poll.Interval > c.Poll.Timeout {
		return fmt.Errorf("poll.interval (%s) must not exceed poll.timeout (%s)", c.Poll.Interval, c.Poll.Timeout)
	}
	if u, err := url.Parse(c.Lumx.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("lumx.base_url %q is not an absolute URL", c.Lumx.BaseURL)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	return nil
}

// RequireCredentials reports ErrMissingCredentials unless both the auth
// token and the contract address are set.
func (c *Config) RequireCredentials() error {
	return c.Lumx.RequireCredentials()
}

// RequireCredentials reports ErrMissingCredentials unless both the auth
// token and the contract address are set.
func (c LumxConfig) RequireCredentials() error {
	if strings.TrimSpace(c.AuthToken) == "" || strings.TrimSpace(c.ContractAddress) == "" {
		return ErrMissingCredentials
	}
	return nil
}
