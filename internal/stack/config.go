package stack

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("stack: invalid config")

// BackoffConfig grows the retransmission delay per retry. The delay never
// drops below Config.RetryInterval.
type BackoffConfig struct {
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// Config holds wrapper construction parameters.
type Config struct {
	// Name labels logs, metrics and stats.
	Name string
	// Origin is the first sequence number of each direction.
	Origin uint64
	// RetryInterval is the minimum time between transmissions of one sequence.
	RetryInterval time.Duration
	// MaxRetries bounds retransmissions before a DeliveryError.
	MaxRetries int
	// CheckInterval is how often the send window is scanned.
	CheckInterval time.Duration
	Backoff       BackoffConfig
	// OnFailure is called once per sequence that exhausts its retries.
	OnFailure func(*DeliveryError)
}

// DefaultConfig returns the reliability defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "courier",
		Origin:        0,
		RetryInterval: 200 * time.Millisecond,
		MaxRetries:    10,
		CheckInterval: 50 * time.Millisecond,
		Backoff: BackoffConfig{
			Multiplier: 1.0,
			MaxDelay:   2 * time.Second,
			Jitter:     false,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = max(c.RetryInterval/4, time.Millisecond)
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = 1.0
	}
	return c
}

func (c Config) Validate() error {
	if c.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry_interval must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: max_retries must be positive", ErrInvalidConfig)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check_interval must be positive", ErrInvalidConfig)
	}
	if c.CheckInterval > c.RetryInterval {
		return fmt.Errorf("%w: check_interval %v exceeds retry_interval %v", ErrInvalidConfig, c.CheckInterval, c.RetryInterval)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.MaxDelay < c.RetryInterval {
		return fmt.Errorf("%w: backoff max_delay below retry_interval", ErrInvalidConfig)
	}
	return nil
}
