// Package net implements the transports used by ledger nodes to exchange sync
// batches and chains.
//
// A Transport carries four RPCs: SendUpdates pushes a sealed batch of sync
// updates, RequestUpdates pulls the updates a peer modified after a given
// time, ChainInfo returns the height and cumulative difficulty of a peer's
// chain, and Chain returns the chain itself so that a heavier competing chain
// can be evaluated.
//
// There are two implementations:
//
// - Inmem: in-memory transport used for testing
//
// - TCP: communicating over plain TCP. Each request is framed by a byte
// indicating the RPC type followed by the JSON encoded request. Responses are
// an error string followed by the JSON encoded response.
//
// Batches are opaque to the transport: they are sealed by the sync manager
// before they reach it.
package net
