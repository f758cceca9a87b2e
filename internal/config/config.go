// Package config loads the oracle node configuration from an optional YAML
// file, a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"flightoracle/internal/ledger/retry"
	"flightoracle/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultOracleCount   = 20
	DefaultCallTimeout   = 10 * time.Second
	DefaultMaxConcurrent = 10
	DefaultQueueSize     = 64
	DefaultMetricsAddr   = ":9100"
	DefaultLedgerURL     = "ws://127.0.0.1:8545"
)

// Config holds all configuration for the oracle node
type Config struct {
	// Ledger
	LedgerURL    string        `yaml:"ledger_url"`
	AppContract  string        `yaml:"app_contract"`
	DataContract string        `yaml:"data_contract"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	Retry        retry.Config  `yaml:"retry"`

	// Oracles
	Oracles       int `yaml:"oracles"`
	MaxConcurrent int `yaml:"max_concurrent_submissions"`
	QueueSize     int `yaml:"event_queue_size"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Ops server, empty disables it
	MetricsAddr string `yaml:"metrics_addr"`

	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
}

// StorageConfig selects the optional persistence sink
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// DSN returns the connection string for the selected driver
func (s StorageConfig) DSN() string {
	if s.Driver == storage.DriverSQLite {
		return s.SQLitePath
	}
	return s.DatabaseURL
}

// NATSConfig configures event fan-out, an empty URL disables it
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		LedgerURL:     DefaultLedgerURL,
		CallTimeout:   DefaultCallTimeout,
		Retry:         retry.DefaultConfig(),
		Oracles:       DefaultOracleCount,
		MaxConcurrent: DefaultMaxConcurrent,
		QueueSize:     DefaultQueueSize,
		LogLevel:      "info",
		LogFormat:     "json",
		MetricsAddr:   DefaultMetricsAddr,
		NATS:          NATSConfig{Subject: "flightoracle.events"},
	}
}

// Load builds the configuration. path names an optional YAML file; when
// empty, ORACLE_CONFIG is consulted.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("ORACLE_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	c.LedgerURL = getEnv("LEDGER_URL", c.LedgerURL)
	c.AppContract = getEnv("APP_CONTRACT", c.AppContract)
	c.DataContract = getEnv("DATA_CONTRACT", c.DataContract)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DatabaseURL = getEnv("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Subject = getEnv("NATS_SUBJECT", c.NATS.Subject)

	if c.Oracles, err = getEnvAsInt("ORACLE_COUNT", c.Oracles); err != nil {
		return err
	}
	if c.MaxConcurrent, err = getEnvAsInt("MAX_CONCURRENT_SUBMISSIONS", c.MaxConcurrent); err != nil {
		return err
	}
	if c.QueueSize, err = getEnvAsInt("EVENT_QUEUE_SIZE", c.QueueSize); err != nil {
		return err
	}
	if c.CallTimeout, err = getEnvAsDuration("CALL_TIMEOUT", c.CallTimeout); err != nil {
		return err
	}
	if c.Retry.Enabled, err = getEnvAsBool("RETRY_ENABLED", c.Retry.Enabled); err != nil {
		return err
	}
	if c.Retry.MaxRetries, err = getEnvAsInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxRetries); err != nil {
		return err
	}
	if c.Retry.InitialDelay, err = getEnvAsDuration("RETRY_INITIAL_DELAY", c.Retry.InitialDelay); err != nil {
		return err
	}
	if c.Retry.MaxDelay, err = getEnvAsDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay); err != nil {
		return err
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.LedgerURL == "" {
		errs = append(errs, errors.New("ledger URL is required"))
	}
	if !common.IsHexAddress(c.AppContract) {
		errs = append(errs, fmt.Errorf("app contract %q is not an address", c.AppContract))
	}
	if !common.IsHexAddress(c.DataContract) {
		errs = append(errs, fmt.Errorf("data contract %q is not an address", c.DataContract))
	}
	if c.Oracles <= 0 {
		errs = append(errs, fmt.Errorf("oracle count must be positive, got %d", c.Oracles))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent submissions must be positive, got %d", c.MaxConcurrent))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("event queue size must be positive, got %d", c.QueueSize))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout))
	}
	if c.Retry.Enabled && (c.Retry.MaxRetries < 0 || c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay) {
		errs = append(errs, errors.New("retry settings are inconsistent"))
	}
	switch c.Storage.Driver {
	case storage.DriverNone:
	case storage.DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("database URL is required for postgres storage"))
		}
	case storage.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// Helper functions to get environment variables
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}
