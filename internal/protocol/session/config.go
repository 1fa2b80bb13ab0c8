package session

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines the pause between failed send attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transfer/session reliability defaults.
type Config struct {
	ChunkPayloadSize int
	AckTimeout       time.Duration
	MaxRetries       int
	RetryBackoff     BackoffConfig

	CleanupInterval time.Duration
	SessionTimeout  time.Duration
	StoreInterval   time.Duration
}

// DefaultConfig mirrors a 255-byte radio payload with the 8-byte header removed.
func DefaultConfig() Config {
	return Config{
		ChunkPayloadSize: 247,
		AckTimeout:       5 * time.Second,
		MaxRetries:       3,
		RetryBackoff: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   1.0,
			MaxDelay:     5 * time.Second,
			Jitter:       false,
		},
		CleanupInterval: 5 * time.Second,
		SessionTimeout:  15 * time.Second,
		StoreInterval:   5 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ChunkPayloadSize <= 0 {
		c.ChunkPayloadSize = d.ChunkPayloadSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff == (BackoffConfig{}) {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.StoreInterval <= 0 {
		c.StoreInterval = d.StoreInterval
	}
	return c
}

func (c Config) Validate() error {
	if c.ChunkPayloadSize <= 0 {
		return fmt.Errorf("%w: chunk payload size must be positive", ErrInvalidConfig)
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("%w: ack timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: max retries must be positive", ErrInvalidConfig)
	}
	if c.RetryBackoff.InitialDelay < 0 || c.RetryBackoff.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delay cannot be negative", ErrInvalidConfig)
	}
	if c.CleanupInterval <= 0 || c.StoreInterval <= 0 {
		return fmt.Errorf("%w: scan intervals must be positive", ErrInvalidConfig)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
