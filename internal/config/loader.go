package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML configuration file at path (skipped when empty or
// missing), merges it on top of the built-in defaults, applies DEPLOYD_*
// environment variable overrides, and returns the final Config. The caller
// should invoke Config.Validate() afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEPLOYD_* environment variables and
// overwrites the corresponding fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "DEPLOYD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEPLOYD_SERVER_CORS_ORIGINS")

	setStr(&cfg.Postgres.Host, "DEPLOYD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEPLOYD_POSTGRES_PORT")
	setStr(&cfg.Postgres.User, "DEPLOYD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEPLOYD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.Database, "DEPLOYD_POSTGRES_DB")

	setStr(&cfg.Redis.Addr, "DEPLOYD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEPLOYD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEPLOYD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEPLOYD_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "DEPLOYD_REDIS_TLS_ENABLED")

	setStr(&cfg.Wallet.PrivateKey, "DEPLOYD_WALLET_PRIVATE_KEY")
	setInt(&cfg.Wallet.ChainID, "DEPLOYD_WALLET_CHAIN_ID")

	setStr(&cfg.Certificate.CertPath, "DEPLOYD_CERTIFICATE_CERT_PATH")
	setStr(&cfg.Certificate.KeyPath, "DEPLOYD_CERTIFICATE_KEY_PATH")
	setDuration(&cfg.Certificate.RotateBefore, "DEPLOYD_CERTIFICATE_ROTATE_BEFORE")

	setStr(&cfg.CloudPool.APIBaseURL, "DEPLOYD_CLOUD_POOL_API_BASE_URL")
	setStr(&cfg.CloudPool.APIToken, "DEPLOYD_CLOUD_POOL_API_TOKEN")

	setStr(&cfg.Marketplace.A.RPCURL, "DEPLOYD_MARKETPLACE_A_RPC_URL")
	setStr(&cfg.Marketplace.A.QueryURL, "DEPLOYD_MARKETPLACE_A_QUERY_URL")
	setDuration(&cfg.Marketplace.A.BidWindow, "DEPLOYD_MARKETPLACE_A_BID_WINDOW")
	setStr(&cfg.Marketplace.B.RPCURL, "DEPLOYD_MARKETPLACE_B_RPC_URL")
	setStr(&cfg.Marketplace.B.QueryURL, "DEPLOYD_MARKETPLACE_B_QUERY_URL")
	setDuration(&cfg.Marketplace.B.BidWindow, "DEPLOYD_MARKETPLACE_B_BID_WINDOW")

	setStr(&cfg.LogLevel, "DEPLOYD_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
