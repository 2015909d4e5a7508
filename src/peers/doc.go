// Package peers describes the other nodes of a deployment and tracks which of
// them are currently reachable.
//
// The peer list is read from a peers.json file in the data directory. Field
// units frequently lose connectivity, so Discovery keeps, per peer, the last
// time it was heard from and sets aside peers that recently failed to answer
// until a quarantine period has passed.
package peers
