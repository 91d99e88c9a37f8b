package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/currency"
)

// FileName is the config file at the root of a books directory.
const FileName = "ledgercore.yaml"

// Storage drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config represents the top-level ledgercore.yaml configuration.
type Config struct {
	Business BusinessConfig `yaml:"business"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
	Git      GitConfig      `yaml:"git"`
}

// BusinessConfig identifies the business entity.
type BusinessConfig struct {
	Name string `yaml:"name"`
}

// LedgerConfig holds the bookkeeping rules.
type LedgerConfig struct {
	BaseCurrency string `yaml:"base_currency"`
	// Tolerance is a decimal string, e.g. "0.01". It is the absolute
	// difference under which an entry counts as balanced.
	Tolerance string `yaml:"tolerance"`
	MaxDepth  int    `yaml:"max_depth"`
}

// StorageConfig selects where the books are kept. Dir is relative to the
// books directory for the file driver.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// EventsConfig controls delivery of ledger events. Every configured sink
// receives every event.
type EventsConfig struct {
	Buffer   int         `yaml:"buffer"`
	AuditLog bool        `yaml:"audit_log"`
	Redis    RedisConfig `yaml:"redis,omitempty"`
	Kafka    KafkaConfig `yaml:"kafka,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// LogConfig selects the zap logger: mode "debug" is human readable,
// anything else is JSON.
type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Load reads a ledgercore.yaml file from disk. Settings missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadDir loads the config of a books directory, then applies dir/.env and
// the LEDGER_* environment variables, and validates the result.
func LoadDir(dir string) (*Config, error) {
	cfg, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFile(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with the LEDGER_* environment variables that are set.
func ApplyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("LEDGER_BASE_CURRENCY", &cfg.Ledger.BaseCurrency)
	set("LEDGER_STORAGE_DRIVER", &cfg.Storage.Driver)
	set("LEDGER_DSN", &cfg.Storage.DSN)
	set("LEDGER_REDIS_ADDR", &cfg.Events.Redis.Addr)
	set("LEDGER_REDIS_PASSWORD", &cfg.Events.Redis.Password)
	set("LEDGER_LOG_MODE", &cfg.Log.Mode)
	if v := os.Getenv("LEDGER_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Events.Kafka.Brokers = brokers
	}
}

// Validate checks the settings the ledger depends on.
func (c *Config) Validate() error {
	var errs []error
	if err := currency.Validate(c.Ledger.BaseCurrency); err != nil {
		errs = append(errs, fmt.Errorf("ledger.base_currency: %w", err))
	}
	if _, err := c.Ledger.ToleranceDecimal(); err != nil {
		errs = append(errs, err)
	}
	if c.Ledger.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("ledger.max_depth must be positive, got %d", c.Ledger.MaxDepth))
	}
	switch c.Storage.Driver {
	case DriverFile, DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Events.Buffer < 0 {
		errs = append(errs, fmt.Errorf("events.buffer must not be negative, got %d", c.Events.Buffer))
	}
	return errors.Join(errs...)
}

// ToleranceDecimal parses Tolerance.
func (l LedgerConfig) ToleranceDecimal() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(strings.TrimSpace(l.Tolerance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.tolerance: %q is not a decimal", l.Tolerance)
	}
	if !tol.IsPositive() {
		return decimal.Zero, fmt.Errorf("ledger.tolerance must be positive, got %s", tol)
	}
	return tol, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for new books.
func Default(businessName string) *Config {
	return &Config{
		Business: BusinessConfig{Name: businessName},
		Ledger: LedgerConfig{
			BaseCurrency: "USD",
			Tolerance:    currency.DefaultTolerance.String(),
			MaxDepth:     accounts.DefaultMaxDepth,
		},
		Storage: StorageConfig{Driver: DriverFile},
		Events:  EventsConfig{Buffer: 256, AuditLog: true},
		Log:     LogConfig{Mode: "production", Level: "warn"},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "ledgercore",
			AuthorEmail: "ledgercore@localhost",
		},
	}
}
