// Package config defines the top-level configuration for the vamos indexer
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAMOS_* environment variables.
type Config struct {
	Chains   []ChainConfig  `toml:"chains"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Worker   WorkerConfig   `toml:"worker"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig describes one EVM chain the indexer follows.
type ChainConfig struct {
	Name            string   `toml:"name"`
	ChainID         uint64   `toml:"chain_id"`
	RPCURL          string   `toml:"rpc_url"`
	ContractAddress string   `toml:"contract_address"`
	StartBlock      uint64   `toml:"start_block"`
	Confirmations   uint64   `toml:"confirmations"`
	BatchSize       uint64   `toml:"batch_size"`
	PollInterval    duration `toml:"poll_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the raw-log
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// WorkerConfig holds the resolution worker's signing credentials and chain
// watch parameters. The worker submits distribute transactions for resolved
// markets; it needs a funded key.
type WorkerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Chain            string   `toml:"chain"` // name of the entry in [[chains]] the worker watches
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Confirmations    uint64   `toml:"confirmations"`
	PollInterval     duration `toml:"poll_interval"`
	DedupTTL         duration `toml:"dedup_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "vamos",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vamos-raws",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Worker: WorkerConfig{
			Enabled:       false,
			Confirmations: 5,
			PollInterval:  duration{10 * time.Second},
			DedupTTL:      duration{30 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_fault", "resolution_conflict", "distribute_submitted", "distribute_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"index":  true,
	"serve":  true,
	"worker": true,
	"replay": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: index, serve, worker, replay, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chains — required for every mode that touches an RPC endpoint.
	needsChains := c.Mode != "serve"
	if needsChains && len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one [[chains]] entry is required for mode "+c.Mode)
	}
	seenNames := map[string]bool{}
	seenIDs := map[uint64]bool{}
	for i, ch := range c.Chains {
		prefix := fmt.Sprintf("chains[%d]", i)
		if ch.Name == "" {
			errs = append(errs, prefix+": name must not be empty")
		} else if seenNames[ch.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain name %q", prefix, ch.Name))
		}
		seenNames[ch.Name] = true
		if ch.ChainID == 0 {
			errs = append(errs, prefix+": chain_id must be positive")
		} else if seenIDs[ch.ChainID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain_id %d", prefix, ch.ChainID))
		}
		seenIDs[ch.ChainID] = true
		if ch.RPCURL == "" {
			errs = append(errs, prefix+": rpc_url must not be empty")
		}
		if !common.IsHexAddress(ch.ContractAddress) {
			errs = append(errs, fmt.Sprintf("%s: contract_address %q is not a valid address", prefix, ch.ContractAddress))
		}
	}

	// Worker — needs a key and a known chain.
	workerActive := c.Worker.Enabled || c.Mode == "worker"
	if workerActive {
		if c.Worker.PrivateKey == "" && c.Worker.EncryptedKeyPath == "" {
			errs = append(errs, "worker: either private_key or encrypted_key_path must be set")
		}
		if c.Worker.EncryptedKeyPath != "" && c.Worker.KeyPassword == "" {
			errs = append(errs, "worker: key_password is required when encrypted_key_path is set")
		}
		if c.Worker.Chain != "" && !seenNames[c.Worker.Chain] {
			errs = append(errs, fmt.Sprintf("worker: chain %q does not match any [[chains]] entry", c.Worker.Chain))
		}
		if c.Worker.Chain == "" && len(c.Chains) > 1 {
			errs = append(errs, "worker: chain must be set when multiple chains are configured")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — the replay mode reads the archive, so it cannot run without S3.
	if c.Mode == "replay" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for replay mode")
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Chain returns the [[chains]] entry with the given name.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// WorkerChain resolves the chain the resolution worker should watch. With a
// single configured chain the worker.chain field may be left empty.
func (c *Config) WorkerChain() (ChainConfig, bool) {
	if c.Worker.Chain != "" {
		return c.Chain(c.Worker.Chain)
	}
	if len(c.Chains) == 1 {
		return c.Chains[0], true
	}
	return ChainConfig{}, false
}
