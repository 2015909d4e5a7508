package peers

import (
	"github.com/handreceipt/ledger/src/common"
)

// Peer is a node of the deployment. PubKeyHex doubles as the node id used in
// sync updates, transfer signatures and validator sets.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id uint32
}

// NewPeer ...
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// ID returns a compact numeric id for logs.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		pubKey, err := p.PubKeyBytes()
		if err != nil {
			return 0
		}
		p.id = common.Hash32(pubKey)
	}
	return p.id
}

// NodeID is the public key hex.
func (p *Peer) NodeID() string {
	return p.PubKeyHex
}

// PubKeyBytes ...
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(p.PubKeyHex)
}
