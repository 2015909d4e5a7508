// Package audit records security events in a tamper-evident trail.
//
// Each record carries the hash of its predecessor, so rewriting any record
// breaks every later link. Records are also written, one JSON object per line,
// to an audit log file through a logrus hook, and the trail can be sealed into
// a single Merkle root that a node can publish or compare with peers.
package audit
