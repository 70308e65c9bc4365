// Package config defines the orchestrator's configuration and validation
// helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by DEPLOYD_* environment variables.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Wallet      WalletConfig      `toml:"wallet"`
	Certificate CertificateConfig `toml:"certificate"`
	CloudPool   CloudPoolConfig   `toml:"cloud_pool"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	LogLevel    string            `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// RedisConfig holds the capability-cache connection parameters. Addr may be
// empty, in which case the orchestrator runs without the cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// WalletConfig holds the transaction-signing key. Key custody is external;
// only the hex-encoded key handed to this process is configured here.
type WalletConfig struct {
	PrivateKey string `toml:"private_key"`
	ChainID    int    `toml:"chain_id"`
}

// CertificateConfig holds the mTLS client credential used for manifest
// delivery. This identity is distinct from the wallet key.
type CertificateConfig struct {
	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`
	// RotateBefore is how long before expiry a rotation is attempted.
	RotateBefore duration `toml:"rotate_before"`
}

// CloudPoolConfig holds the managed instance pool API parameters.
type CloudPoolConfig struct {
	APIBaseURL string `toml:"api_base_url"`
	APIToken   string `toml:"api_token"`
}

// MarketplaceConfig holds per-marketplace chain endpoints and protocol
// timing. Both decentralized marketplaces share the same shape.
type MarketplaceConfig struct {
	A MarketConfig `toml:"a"`
	B MarketConfig `toml:"b"`
}

// MarketConfig configures one decentralized GPU marketplace.
type MarketConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	QueryURL           string   `toml:"query_url"`
	BidWindow          duration `toml:"bid_window"`
	BidPollInterval    duration `toml:"bid_poll_interval"`
	StatusPollAttempts int      `toml:"status_poll_attempts"`
	StatusPollInterval duration `toml:"status_poll_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "20s", "5m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	market := MarketConfig{
		BidWindow:          duration{20 * time.Second},
		BidPollInterval:    duration{2 * time.Second},
		StatusPollAttempts: 30,
		StatusPollInterval: duration{2 * time.Second},
	}
	return Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "deployd",
		},
		Redis: RedisConfig{
			Addr:     "",
			PoolSize: 10,
		},
		Wallet: WalletConfig{
			ChainID: 1,
		},
		Certificate: CertificateConfig{
			RotateBefore: duration{24 * time.Hour},
		},
		Marketplace: MarketplaceConfig{
			A: market,
			B: market,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Postgres.Host == "" {
		errs = append(errs, "postgres: host must not be empty")
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
	}
	if c.Postgres.Database == "" {
		errs = append(errs, "postgres: database must not be empty")
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Wallet.ChainID <= 0 {
		errs = append(errs, "wallet: chain_id must be positive")
	}

	for name, m := range map[string]MarketConfig{"a": c.Marketplace.A, "b": c.Marketplace.B} {
		if m.BidWindow.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("marketplace.%s: bid_window must be positive", name))
		}
		if m.BidPollInterval.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("marketplace.%s: bid_poll_interval must be positive", name))
		}
		if m.StatusPollAttempts < 1 {
			errs = append(errs, fmt.Sprintf("marketplace.%s: status_poll_attempts must be >= 1", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
