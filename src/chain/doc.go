// Package chain defines the ledger's data model, that is transactions, blocks,
// chain state and validators, and the Store that persists the chain.
//
// Blocks are append-only and linked by the hash of their predecessor's header.
// A block's transactions are committed to by the Merkle root in its header, so
// any transaction can be proven to belong to a block without the rest of the
// block. Once a block is confirmed it is never modified; a chain is only ever
// extended by one block or swapped wholesale during fork resolution, and both
// operations are atomic in every Store implementation.
package chain
