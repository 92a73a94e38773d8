// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/moneyprotocol/engineering-sub002/internal/chain"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/hint"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
	"github.com/moneyprotocol/engineering-sub002/internal/publish"
)

// Config holds every setting of the service. Load reads the YAML file and
// then lets environment variables override connection settings.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Chain struct {
		RPCURL              string          `yaml:"rpc_url"`
		Owner               string          `yaml:"owner"`
		Addresses           chain.Addresses `yaml:"addresses"`
		RequestsPerSecond   float64         `yaml:"requests_per_second"`
		Burst               int             `yaml:"burst"`
		ReceiptPollInterval time.Duration   `yaml:"receipt_poll_interval"`
	} `yaml:"chain"`

	Mirror struct {
		FallbackRefresh time.Duration `yaml:"fallback_refresh"`
	} `yaml:"mirror"`

	Hint struct {
		MaxTrialsPerCall        uint64 `yaml:"max_trials_per_call"`
		MaxRedemptionIterations uint64 `yaml:"max_redemption_iterations"`
		SlippageTolerance       string `yaml:"slippage_tolerance"`
	} `yaml:"hint"`

	Protocol struct {
		DeployedAt time.Time `yaml:"deployed_at"`
	} `yaml:"protocol"`

	Storage struct {
		DatabaseURL string        `yaml:"database_url"`
		RedisURL    string        `yaml:"redis_url"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
	} `yaml:"storage"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Chain.Burst = 1
	cfg.Chain.ReceiptPollInterval = chain.DefaultPollInterval
	cfg.Mirror.FallbackRefresh = mirror.DefaultFallbackRefresh
	cfg.Hint.MaxTrialsPerCall = hint.DefaultMaxTrialsPerCall
	cfg.Hint.SlippageTolerance = hint.DefaultSlippageTolerance.String()
	cfg.Storage.CacheTTL = 5 * time.Minute
	cfg.NATS.SubjectPrefix = publish.DefaultSubjectPrefix
	cfg.Logging.Level = "info"
	return &cfg
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain rpc_url is required"))
	}
	if c.Chain.Owner != "" && !common.IsHexAddress(c.Chain.Owner) {
		errs = append(errs, fmt.Errorf("invalid owner address: %q", c.Chain.Owner))
	}
	for name, addr := range map[string]common.Address{
		"price_feed":     c.Chain.Addresses.PriceFeed,
		"vault_manager":  c.Chain.Addresses.VaultManager,
		"sorted_vaults":  c.Chain.Addresses.SortedVaults,
		"hint_helpers":   c.Chain.Addresses.HintHelpers,
		"stability_pool": c.Chain.Addresses.StabilityPool,
	} {
		if addr == (common.Address{}) {
			errs = append(errs, fmt.Errorf("chain address %s is required", name))
		}
	}
	if c.Chain.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests_per_second must not be negative"))
	}
	if c.Hint.MaxTrialsPerCall == 0 {
		errs = append(errs, errors.New("max_trials_per_call must be positive"))
	}
	if slippage, err := fixed.Parse(c.Hint.SlippageTolerance); err != nil {
		errs = append(errs, fmt.Errorf("slippage_tolerance: %w", err))
	} else if slippage.Gt(fixed.One) {
		errs = append(errs, errors.New("slippage_tolerance must not exceed 1"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// OwnerAddress is the tracked account, or the zero address.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Chain.Owner)
}

// Slippage is the parsed redemption slippage tolerance. Call after Validate.
func (c *Config) Slippage() fixed.Decimal {
	d, _ := fixed.Parse(c.Hint.SlippageTolerance)
	return d
}

// overrideWithEnv overwrites connection settings from the environment.
func overrideWithEnv(cfg *Config) {
	for env, field := range map[string]*string{
		"PORT":          &cfg.Server.Port,
		"RPC_URL":       &cfg.Chain.RPCURL,
		"OWNER_ADDRESS": &cfg.Chain.Owner,
		"DATABASE_URL":  &cfg.Storage.DatabaseURL,
		"REDIS_URL":     &cfg.Storage.RedisURL,
		"NATS_URL":      &cfg.NATS.URL,
		"LOG_LEVEL":     &cfg.Logging.Level,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
}
