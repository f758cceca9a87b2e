package retry

import "time"

// Config holds retry configuration
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultConfig is used when nothing else is configured
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}
