package replication

import (
	"time"
)

const (
	// DefaultReceiveTimeout bounds the wait for a peer's updates.
	DefaultReceiveTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry count at which an update becomes Failed.
	DefaultMaxRetries = 3
)

// Config of a Manager.
type Config struct {
	// Rounds governs the validate/send/receive/resolve rounds run for one
	// peer in one cycle.
	Rounds RetryPolicy `mapstructure:"rounds"`
	// Send governs the attempts to deliver a batch within a round.
	Send RetryPolicy `mapstructure:"send"`
	// Receive governs the attempts to fetch a peer's updates within a round.
	Receive RetryPolicy `mapstructure:"receive"`

	ReceiveTimeout time.Duration `mapstructure:"receive-timeout"`
	MaxRetries     int           `mapstructure:"max-retries"`
	// Overlap is subtracted from the last sync time when asking a peer for
	// its updates, to absorb clock differences.
	Overlap time.Duration `mapstructure:"overlap"`
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		Rounds: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			Jitter:      0.5,
		},
		Send:           DefaultRetryPolicy(),
		Receive:        DefaultRetryPolicy(),
		ReceiveTimeout: DefaultReceiveTimeout,
		MaxRetries:     DefaultMaxRetries,
		Overlap:        time.Minute,
	}
}
