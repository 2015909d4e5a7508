// Package consensus maintains the validator set and the chain state of a node,
// and decides which blocks may be appended to the chain.
//
// The Engine is a service object: it receives its store, audit logger and
// configuration at construction and guards its state with a single
// readers-writer lock. Every operation that changes the validator set or the
// chain first writes an audit event; if the audit write fails, the change is
// not made.
//
// Blocks are produced with ProposeBlock, checked with ValidateBlock and only
// appended by an explicit CommitBlock. ValidateBlock evaluates a list of
// rules, each with a severity. Only Critical failures make a block invalid;
// Warning and Info failures are reported but do not block a commit. A block
// must carry a signature from an active validator and a difficulty within the
// configured bounds.
package consensus
