// Package config defines the configuration for a ledger node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, a node relies on a data directory, defined by Config.DataDir, where
// it expects to find a few additional files:
//
//  priv_key       // a plain text file containing the raw private key (cf. ledger keygen).
//  peers.json     // a JSON file containing the list of authority nodes.
//  authority.json // the unit, certificate and unit hierarchy of this node.
//  ledger.toml    // (optional) configuration values, overridden by flags.
//
// The audit trail is appended to audit.log in the same directory.
package config
