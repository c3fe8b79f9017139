package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Transfer modes.
const (
	TransferDir  = "dir"
	TransferHTTP = "http"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	LockTTL  time.Duration `mapstructure:"LOCK_TTL"`

	IngestWorkers int           `mapstructure:"INGEST_WORKERS"`
	WatchSettle   time.Duration `mapstructure:"WATCH_SETTLE"`

	TransferMode       string  `mapstructure:"TRANSFER_MODE"`
	TransferRoot       string  `mapstructure:"TRANSFER_ROOT"`
	OutboundDir        string  `mapstructure:"OUTBOUND_DIR"`
	InboundDir         string  `mapstructure:"INBOUND_DIR"`
	ClearinghouseURL   string  `mapstructure:"CLEARINGHOUSE_URL"`
	ClearinghouseToken string  `mapstructure:"CLEARINGHOUSE_TOKEN"`
	TransferRPS        float64 `mapstructure:"TRANSFER_RPS"`
	TransferRetries    int     `mapstructure:"TRANSFER_RETRIES"`

	SubmitterID      string `mapstructure:"SUBMITTER_ID"`
	SubmitterName    string `mapstructure:"SUBMITTER_NAME"`
	SubmitterContact string `mapstructure:"SUBMITTER_CONTACT"`
	SubmitterPhone   string `mapstructure:"SUBMITTER_PHONE"`
	ReceiverID       string `mapstructure:"RECEIVER_ID"`
	ReceiverName     string `mapstructure:"RECEIVER_NAME"`
	UsageIndicator   string `mapstructure:"USAGE_INDICATOR"`

	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	X12BodyLimit   string        `mapstructure:"X12_BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "LOCK_TTL", "INGEST_WORKERS", "WATCH_SETTLE",
	"TRANSFER_MODE", "TRANSFER_ROOT", "OUTBOUND_DIR", "INBOUND_DIR",
	"CLEARINGHOUSE_URL", "CLEARINGHOUSE_TOKEN", "TRANSFER_RPS", "TRANSFER_RETRIES",
	"SUBMITTER_ID", "SUBMITTER_NAME", "SUBMITTER_CONTACT", "SUBMITTER_PHONE",
	"RECEIVER_ID", "RECEIVER_NAME", "USAGE_INDICATOR",
	"JWT_SECRET", "JWT_ISSUER", "BODY_LIMIT", "X12_BODY_LIMIT", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads .env (when present) and the environment. It does not
// validate; call Validate before starting anything that depends on the
// chosen drivers.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("SQLITE_PATH", "./claimsync.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("INGEST_WORKERS", 4)
	v.SetDefault("WATCH_SETTLE", "2s")
	v.SetDefault("TRANSFER_MODE", TransferDir)
	v.SetDefault("OUTBOUND_DIR", "outbound")
	v.SetDefault("INBOUND_DIR", "inbound")
	v.SetDefault("TRANSFER_RPS", 2)
	v.SetDefault("TRANSFER_RETRIES", 2)
	v.SetDefault("USAGE_INDICATOR", "T")
	v.SetDefault("JWT_ISSUER", "claimsync")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("X12_BODY_LIMIT", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.TransferMode = strings.ToLower(strings.TrimSpace(cfg.TransferMode))
	cfg.UsageIndicator = strings.ToUpper(strings.TrimSpace(cfg.UsageIndicator))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run the server or any
// command that moves files.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	switch c.TransferMode {
	case TransferDir:
		if c.TransferRoot == "" {
			return fmt.Errorf("TRANSFER_ROOT is required when TRANSFER_MODE is %q", TransferDir)
		}
	case TransferHTTP:
		if c.ClearinghouseURL == "" {
			return fmt.Errorf("CLEARINGHOUSE_URL is required when TRANSFER_MODE is %q", TransferHTTP)
		}
	default:
		return fmt.Errorf("TRANSFER_MODE must be \"dir\" or \"http\", got %q", c.TransferMode)
	}
	if c.UsageIndicator != "T" && c.UsageIndicator != "P" {
		return fmt.Errorf("USAGE_INDICATOR must be \"T\" or \"P\", got %q", c.UsageIndicator)
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1, got %d", c.IngestWorkers)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	return nil
}

// ValidateStore checks only what opening the store needs.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q is not allowed in production", DriverMemory)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\", \"sqlite\", or \"memory\", got %q", c.StoreDriver)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
