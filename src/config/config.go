package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/consensus"
	"github.com/handreceipt/ledger/src/node"
	"github.com/handreceipt/ledger/src/replication"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the validator's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases
	DefaultBadgerFile = "badger_db"

	// DefaultAuditFile is the default name of the audit trail file.
	DefaultAuditFile = "audit.log"

	// ConfigName is the name, without extension, of the optional config file
	// in the data directory.
	ConfigName = "ledger"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:1337"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultTCPTimeout      = 1000 * time.Millisecond
	DefaultChainTimeout    = 10000 * time.Millisecond
	DefaultMaxPool         = 2
	DefaultStore           = false
	DefaultSyncInterval    = 5 * time.Second
	DefaultCleanupInterval = time.Hour
	DefaultRetentionDays   = 30
	DefaultSyncTimeout     = 2 * time.Minute
	DefaultQuarantine      = 30 * time.Second
)

// Config contains all the configuration properties of a ledger node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this node syncs with other
	// nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// ChainTimeout is the timeout of whole-chain downloads, which can be much
	// larger than other RPCs.
	ChainTimeout time.Duration `mapstructure:"chain-timeout"`

	// Store activates persistent storage of the chain and of sync updates.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Primary nodes seal the transaction pool into blocks.
	Primary bool `mapstructure:"primary"`

	// Passphrase derives the key that seals update batches between nodes.
	// Every node of a network must use the same passphrase.
	Passphrase string `mapstructure:"passphrase"`

	// SyncInterval is the minimum pause between two sync cycles.
	SyncInterval time.Duration `mapstructure:"sync-interval"`

	// SyncTimeout bounds a whole sync cycle.
	SyncTimeout time.Duration `mapstructure:"sync-timeout"`

	// CleanupInterval is the interval of the sync data cleanup job.
	CleanupInterval time.Duration `mapstructure:"cleanup-interval"`

	// RetentionDays is how long completed updates are kept.
	RetentionDays int `mapstructure:"retention-days"`

	// Quarantine is how long a peer that failed to answer is left out of sync
	// cycles.
	Quarantine time.Duration `mapstructure:"quarantine"`

	// Sync configures retries and timeouts of the replication manager.
	Sync replication.Config `mapstructure:"sync"`

	// Consensus holds the validator set and block parameters.
	Consensus consensus.Config `mapstructure:"consensus"`

	// Key is the private key of the validator.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		BindAddr:        DefaultBindAddr,
		ServiceAddr:     DefaultServiceAddr,
		MaxPool:         DefaultMaxPool,
		TCPTimeout:      DefaultTCPTimeout,
		ChainTimeout:    DefaultChainTimeout,
		Store:           DefaultStore,
		DatabaseDir:     DefaultDatabaseDir(),
		SyncInterval:    DefaultSyncInterval,
		SyncTimeout:     DefaultSyncTimeout,
		CleanupInterval: DefaultCleanupInterval,
		RetentionDays:   DefaultRetentionDays,
		Quarantine:      DefaultQuarantine,
		Sync:            *replication.DefaultConfig(),
		Consensus:       *consensus.DefaultConfig(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// AuditFile returns the full path of the audit trail.
func (c *Config) AuditFile() string {
	return filepath.Join(c.DataDir, DefaultAuditFile)
}

// ChainDir is the badger directory of the chain store.
func (c *Config) ChainDir() string {
	return filepath.Join(c.DatabaseDir, "chain")
}

// SyncDir is the badger directory of the sync update store.
func (c *Config) SyncDir() string {
	return filepath.Join(c.DatabaseDir, "sync")
}

// NodeConfig extracts the timers of the node.
func (c *Config) NodeConfig() *node.Config {
	return node.NewConfig(
		c.SyncInterval,
		c.Consensus.BlockTime,
		c.CleanupInterval,
		c.RetentionDays,
		c.SyncTimeout,
		c.baseLogger(),
	)
}

func (c *Config) baseLogger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger
}

// Logger returns a formatted logrus Entry, with prefix set to "ledger".
func (c *Config) Logger() *logrus.Entry {
	return c.baseLogger().WithField("prefix", "ledger")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level ledger config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Ledger")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Ledger")
		} else {
			return filepath.Join(home, ".ledger")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
