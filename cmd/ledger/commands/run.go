package commands

import (
	"strings"

	"github.com/handreceipt/ledger/src/config"
	"github.com/handreceipt/ledger/src/ledger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a ledger node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runLedger,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runLedger(cmd *cobra.Command, args []string) error {
	engine := ledger.NewLedger(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	engine.Shutdown()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for ledger node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for ledger node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Duration("chain-timeout", _config.ChainTimeout, "Timeout of chain downloads")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().String("passphrase", _config.Passphrase, "Shared passphrase sealing updates between nodes (or LEDGER_PASSPHRASE)")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Node configuration
	cmd.Flags().Bool("primary", _config.Primary, "Seal the transaction pool into blocks")
	cmd.Flags().Duration("sync-interval", _config.SyncInterval, "Time between sync cycles")
	cmd.Flags().Duration("sync-timeout", _config.SyncTimeout, "Maximum duration of a sync cycle")
	cmd.Flags().Duration("cleanup-interval", _config.CleanupInterval, "Time between cleanups of sync data")
	cmd.Flags().Int("retention-days", _config.RetentionDays, "Days completed updates are kept")
	cmd.Flags().Duration("quarantine", _config.Quarantine, "Time an unreachable peer is left out of sync cycles")
	cmd.Flags().Duration("consensus.block-time", _config.Consensus.BlockTime, "Time between blocks")
	cmd.Flags().Int("sync.max-retries", _config.Sync.MaxRetries, "Attempts before an update is marked failed")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":         _config.DataDir,
		"BindAddr":        _config.BindAddr,
		"AdvertiseAddr":   _config.AdvertiseAddr,
		"ServiceAddr":     _config.ServiceAddr,
		"NoService":       _config.NoService,
		"MaxPool":         _config.MaxPool,
		"Store":           _config.Store,
		"LogLevel":        _config.LogLevel,
		"Moniker":         _config.Moniker,
		"Primary":         _config.Primary,
		"TCPTimeout":      _config.TCPTimeout,
		"ChainTimeout":    _config.ChainTimeout,
		"SyncInterval":    _config.SyncInterval,
		"SyncTimeout":     _config.SyncTimeout,
		"CleanupInterval": _config.CleanupInterval,
		"RetentionDays":   _config.RetentionDays,
		"BlockTime":       _config.Consensus.BlockTime,
		"MaxRetries":      _config.Sync.MaxRetries,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// LEDGER_PASSPHRASE and friends
	viper.SetEnvPrefix("ledger")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/ledger.toml (.json, .yaml also work)
	viper.SetConfigName(config.ConfigName) // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir)   // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
