// Package node implements the long-running part of a ledger node.
//
// A Node drives the replication Manager and the consensus Engine of one
// authority. It implements a small state machine whose states are defined in
// the state package.
//
// Synchronization
//
// While Syncing, a control timer fires every SyncInterval (plus a random
// extra of up to the same amount, so that nodes do not all sync at once). On
// each tick the node runs one sync cycle with every active peer, then asks the
// peers for the cumulative difficulty of their chains. If a peer holds a
// heavier chain, the node downloads it and hands it to the fork handler,
// which adopts it only if it validates from genesis.
//
// Blocks
//
// Transfers submitted locally, and transfers accepted from peers, are turned
// into signed transactions and kept in a pool. The primary authority seals the
// pool into a block every BlockTime. Other nodes receive the blocks through
// the fork check above, and drop the pooled transactions the adopted chain
// already records.
//
// RPC
//
// Incoming requests arrive on the Consumer channel of the net.Transport and
// are processed in goroutines bounded by the state Manager. A Suspended node
// keeps serving reads but refuses incoming batches.
package node
