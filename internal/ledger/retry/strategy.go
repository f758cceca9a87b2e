package retry

import (
	"context"

	"go.uber.org/zap"
)

// Strategy defines the interface for retry strategies
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, op Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is a function that can be retried.
// It receives the strategy's context so it can bound its own ledger calls.
type Operation func(ctx context.Context) error

// NewStrategy creates a retry strategy based on configuration
func NewStrategy(cfg Config, log *zap.Logger) Strategy {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		log.Info("retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy()
	}

	log.Info("retry enabled, using ExponentialBackoffStrategy",
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_delay", cfg.InitialDelay),
		zap.Duration("max_delay", cfg.MaxDelay),
	)

	return NewExponentialBackoffStrategy(cfg.MaxRetries, cfg.InitialDelay, cfg.MaxDelay, log)
}
