// Package replication keeps the sync updates of a node consistent with its
// peers.
//
// Every locally produced record is enqueued as one SyncUpdate per destination
// peer. A sync cycle groups the pending updates by destination and, for each
// active peer concurrently, runs up to a configured number of rounds:
//
//	validate -> send (retried with backoff) -> receive (timed out, retried) -> resolve
//
// Received updates are resolved against local copies of the same record: the
// later timestamp wins, then the higher priority, and a full tie merges both
// payloads. The outcome of a round is applied in a single storage
// transaction. When a round cannot complete, every update of the batch has its
// retry count incremented and goes back to Pending, or to Failed once the cap
// is reached. Failed updates are archived by CleanupFailedUpdates.
//
// The Manager also decides whether to adopt a competing chain: only a chain
// with strictly greater cumulative difficulty that passes full validation
// replaces the local one.
package replication
