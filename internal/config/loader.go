package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAMOS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAMOS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Per-chain settings come only from the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAMOS_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VAMOS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAMOS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAMOS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAMOS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAMOS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAMOS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAMOS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAMOS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAMOS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAMOS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAMOS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAMOS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAMOS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAMOS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAMOS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAMOS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAMOS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAMOS_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAMOS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAMOS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAMOS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAMOS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAMOS_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VAMOS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VAMOS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VAMOS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAMOS_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VAMOS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VAMOS_SERVER_RATE_WINDOW")

	// ── Worker ──
	setBool(&cfg.Worker.Enabled, "VAMOS_WORKER_ENABLED")
	setStr(&cfg.Worker.Chain, "VAMOS_WORKER_CHAIN")
	setStr(&cfg.Worker.PrivateKey, "VAMOS_WORKER_PRIVATE_KEY")
	setStr(&cfg.Worker.EncryptedKeyPath, "VAMOS_WORKER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Worker.KeyPassword, "VAMOS_WORKER_KEY_PASSWORD")
	setUint64(&cfg.Worker.Confirmations, "VAMOS_WORKER_CONFIRMATIONS")
	setDuration(&cfg.Worker.PollInterval, "VAMOS_WORKER_POLL_INTERVAL")
	setDuration(&cfg.Worker.DedupTTL, "VAMOS_WORKER_DEDUP_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAMOS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAMOS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAMOS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAMOS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAMOS_MODE")
	setStr(&cfg.LogLevel, "VAMOS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
