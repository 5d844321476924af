// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries        = 3
	defaultInitialBackoff    = 200 * time.Millisecond
	defaultMaxBackoff        = 5 * time.Second
	defaultBackoffMultiplier = 2.0
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int `mapstructure:"max_retries"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// BackoffMultiplier grows the delay after every attempt.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        defaultMaxRetries,
		InitialBackoff:    defaultInitialBackoff,
		MaxBackoff:        defaultMaxBackoff,
		BackoffMultiplier: defaultBackoffMultiplier,
	}
}

// ApplyDefaults sets default values for unset fields.
func (config Config) ApplyDefaults() Config {
	defaults := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return config
}

// Notify is called before every retry with the failed attempt's error and the upcoming delay.
type Notify func(attemptError error, delay time.Duration)

// Permanent marks an error as not retryable; Do returns it immediately.
func Permanent(operationError error) error {
	if operationError == nil {
		return nil
	}
	return backoff.Permanent(operationError)
}

// Do calls operation until it succeeds, returns a permanent error, the context
// is done, or the attempts are exhausted. The last error is returned unwrapped.
func Do(ctx context.Context, config Config, operation func() error, notify Notify) error {
	effective := config.ApplyDefaults()

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = effective.InitialBackoff
	exponential.MaxInterval = effective.MaxBackoff
	exponential.Multiplier = effective.BackoffMultiplier
	exponential.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(effective.MaxRetries)), ctx)

	var backoffNotify backoff.Notify
	if notify != nil {
		backoffNotify = backoff.Notify(notify)
	}

	retryError := backoff.RetryNotify(operation, policy, backoffNotify)
	var permanentError *backoff.PermanentError
	if errors.As(retryError, &permanentError) {
		return permanentError.Unwrap()
	}
	return retryError
}
