package consensus

import "time"

const (
	// DefaultMinValidators ...
	DefaultMinValidators = 1
	// DefaultMaxValidators ...
	DefaultMaxValidators = 10
	// DefaultBlockTime ...
	DefaultBlockTime = 30 * time.Second
	// DefaultMaxBlockSize is in bytes of transaction payload.
	DefaultMaxBlockSize = 1 << 20
	// DefaultMaxTransactions ...
	DefaultMaxTransactions = 100
	// DefaultMinDifficulty ...
	DefaultMinDifficulty = 1
	// DefaultMaxDifficulty ...
	DefaultMaxDifficulty = 16
	// DefaultMaxClockSkew ...
	DefaultMaxClockSkew = 5 * time.Minute
)

// Config holds the consensus parameters.
type Config struct {
	// MinValidators is the size below which validators cannot be removed.
	MinValidators int `mapstructure:"min-validators"`

	// MaxValidators is the size beyond which validators cannot be added.
	MaxValidators int `mapstructure:"max-validators"`

	// BlockTime is the interval at which a primary node seals pending
	// transactions into a block.
	BlockTime time.Duration `mapstructure:"block-time"`

	// MaxBlockSize bounds the total payload size of a block, in bytes.
	MaxBlockSize int `mapstructure:"max-block-size"`

	// MaxTransactions bounds the number of transactions in a block.
	MaxTransactions int `mapstructure:"max-transactions"`

	// MinDifficulty is assigned to proposed blocks.
	MinDifficulty uint64 `mapstructure:"min-difficulty"`

	// MaxDifficulty bounds the difficulty of accepted blocks.
	MaxDifficulty uint64 `mapstructure:"max-difficulty"`

	// MaxClockSkew is how far in the future a block timestamp may be.
	MaxClockSkew time.Duration `mapstructure:"max-clock-skew"`
}

// Validate checks that the bounds of the configuration are consistent.
func (c *Config) Validate() error {
	if c.MinValidators < 1 {
		return newErr(InvalidConfig, "min-validators %d should be at least 1", c.MinValidators)
	}
	if c.MinValidators > c.MaxValidators {
		return newErr(InvalidConfig, "min-validators %d above max-validators %d", c.MinValidators, c.MaxValidators)
	}
	if c.MinDifficulty > c.MaxDifficulty {
		return newErr(InvalidConfig, "min-difficulty %d above max-difficulty %d", c.MinDifficulty, c.MaxDifficulty)
	}
	if c.MaxBlockSize <= 0 || c.MaxTransactions <= 0 {
		return newErr(InvalidConfig, "block bounds should be positive")
	}
	return nil
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		MinValidators:   DefaultMinValidators,
		MaxValidators:   DefaultMaxValidators,
		BlockTime:       DefaultBlockTime,
		MaxBlockSize:    DefaultMaxBlockSize,
		MaxTransactions: DefaultMaxTransactions,
		MinDifficulty:   DefaultMinDifficulty,
		MaxDifficulty:   DefaultMaxDifficulty,
		MaxClockSkew:    DefaultMaxClockSkew,
	}
}
