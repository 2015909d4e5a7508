package node

import (
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/sirupsen/logrus"
)

// Config holds the timers of a Node.
type Config struct {
	// SyncInterval is the minimum pause between two sync cycles.
	SyncInterval time.Duration `mapstructure:"sync-interval"`

	// BlockTime is the interval at which a primary seals its transaction pool
	// into a block.
	BlockTime time.Duration `mapstructure:"block-time"`

	// CleanupInterval is the interval of the sync data cleanup job.
	CleanupInterval time.Duration `mapstructure:"cleanup-interval"`

	// RetentionDays is how long completed updates are kept.
	RetentionDays int `mapstructure:"retention-days"`

	// SyncTimeout bounds a whole sync cycle.
	SyncTimeout time.Duration `mapstructure:"sync-timeout"`

	Logger *logrus.Logger
}

// NewConfig ...
func NewConfig(syncInterval time.Duration,
	blockTime time.Duration,
	cleanupInterval time.Duration,
	retentionDays int,
	syncTimeout time.Duration,
	logger *logrus.Logger) *Config {

	return &Config{
		SyncInterval:    syncInterval,
		BlockTime:       blockTime,
		CleanupInterval: cleanupInterval,
		RetentionDays:   retentionDays,
		SyncTimeout:     syncTimeout,
		Logger:          logger,
	}
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		SyncInterval:    5 * time.Second,
		BlockTime:       30 * time.Second,
		CleanupInterval: time.Hour,
		RetentionDays:   30,
		SyncTimeout:     2 * time.Minute,
		Logger:          logger,
	}
}

// TestConfig is a fast configuration for multi-node tests.
func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.SyncInterval = 20 * time.Millisecond
	config.BlockTime = 50 * time.Millisecond
	config.CleanupInterval = time.Second
	config.SyncTimeout = 5 * time.Second
	config.Logger = common.NewTestLogger(t, logrus.DebugLevel)
	return config
}
