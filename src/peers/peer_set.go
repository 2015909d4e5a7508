package peers

import (
	"sort"
)

// PeerSet is an immutable set of peers indexed by public key.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
	}

	for _, peer := range peers {
		peerSet.ByPubKey[peer.PubKeyHex] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// WithNewPeer returns a new PeerSet including peer.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := append([]*Peer{}, peerSet.Peers...)
	if _, ok := peerSet.ByPubKey[peer.PubKeyHex]; !ok {
		peers = append(peers, peer)
	}
	return NewPeerSet(peers)
}

// WithRemovedPeer returns a new PeerSet excluding peer.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyHex != peer.PubKeyHex {
			peers = append(peers, p)
		}
	}
	return NewPeerSet(peers)
}

// PubKeys returns the sorted public keys of the set.
func (peerSet *PeerSet) PubKeys() []string {
	res := make([]string, 0, len(peerSet.Peers))
	for _, peer := range peerSet.Peers {
		res = append(res, peer.PubKeyHex)
	}
	sort.Strings(res)
	return res
}

// Len ...
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}
