package domain

import (
	"time"

	"dario.cat/mergo"
)

type ForwardingSettings struct {
	Enabled                 bool          `yaml:"enabled"`
	ConnectTimeout          time.Duration `yaml:"connect_timeout"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	RetryCount              int           `yaml:"retry_count"`
	RetryBackoffBase        time.Duration `yaml:"retry_backoff_base"`
	MaxBackoff              time.Duration `yaml:"max_backoff"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitResetTimeout     time.Duration `yaml:"circuit_reset_timeout"`
	ExcludedExact           []string      `yaml:"excluded_exact"`
	ExcludedGlob            []string      `yaml:"excluded_glob"`
	ExcludedRegex           []string      `yaml:"excluded_regex"`
	Scheme                  string        `yaml:"scheme"`
	PrimaryHint             string        `yaml:"primary_hint"`
}

// DefaultForwardingSettings carries every default except Enabled, which
// stays explicit: merging cannot distinguish "disabled" from "unset".
func DefaultForwardingSettings() ForwardingSettings {
	return ForwardingSettings{
		ConnectTimeout:          5 * time.Second,
		ReadTimeout:             25 * time.Second,
		RetryCount:              3,
		RetryBackoffBase:        250 * time.Millisecond,
		MaxBackoff:              30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitResetTimeout:     30 * time.Second,
		Scheme:                  "http",
	}
}

// WithDefaults fills zero-valued fields from the default settings.
// RetryCount and CircuitBreakerThreshold are kept as given: zero is a
// meaningful value for both (no retries, breaker disabled).
func (f ForwardingSettings) WithDefaults() ForwardingSettings {
	defaults := DefaultForwardingSettings()
	merged := f
	if err := mergo.Merge(&merged, defaults); err != nil {
		return f
	}
	merged.RetryCount = f.RetryCount
	merged.CircuitBreakerThreshold = f.CircuitBreakerThreshold
	return merged
}

func (f ForwardingSettings) Validate() error {
	if f.RetryCount < 0 {
		return NewConfigError("forwarding.retry_count", "cannot be negative, got: %d", f.RetryCount)
	}
	if f.RetryBackoffBase <= 0 {
		return NewConfigError("forwarding.retry_backoff_base", "must be positive")
	}
	if f.MaxBackoff <= 0 {
		return NewConfigError("forwarding.max_backoff", "must be positive")
	}
	if f.ConnectTimeout <= 0 {
		return NewConfigError("forwarding.connect_timeout", "must be positive")
	}
	if f.ReadTimeout <= 0 {
		return NewConfigError("forwarding.read_timeout", "must be positive")
	}
	if f.CircuitBreakerThreshold < 0 {
		return NewConfigError("forwarding.circuit_breaker_threshold", "cannot be negative, got: %d", f.CircuitBreakerThreshold)
	}
	if f.CircuitBreakerThreshold > 0 && f.CircuitResetTimeout <= 0 {
		return NewConfigError("forwarding.circuit_reset_timeout", "must be positive when the breaker is enabled")
	}
	if f.Scheme != "http" && f.Scheme != "https" {
		return NewConfigError("forwarding.scheme", "must be 'http' or 'https', got: %q", f.Scheme)
	}
	return nil
}

// Backoff returns the delay before the given attempt, 1-indexed:
// base * 2^(attempt-1), capped at MaxBackoff.
func (f ForwardingSettings) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := f.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= f.MaxBackoff {
			return f.MaxBackoff
		}
	}
	if d > f.MaxBackoff {
		return f.MaxBackoff
	}
	return d
}

// MaxAttempts is retry_count + 1; a retry count of zero disables retries.
func (f ForwardingSettings) MaxAttempts() int {
	return f.RetryCount + 1
}
