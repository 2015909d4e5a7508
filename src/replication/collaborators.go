package replication

import (
	"context"
	"time"

	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/peers"
)

// Discovery lists the peers that can be synced with.
type Discovery interface {
	ActiveNodes() []peers.NodeInfo
}

// livenessTracker is implemented by Discovery implementations that want to
// hear about the outcome of exchanges.
type livenessTracker interface {
	MarkSeen(id string)
	MarkDown(id string)
}

// Exchanger moves sealed batches between nodes.
type Exchanger interface {
	// SendUpdates delivers a sealed batch to node.
	SendUpdates(ctx context.Context, node peers.NodeInfo, sealed []byte) error
	// RequestUpdates asks node for the updates it modified after since, as a
	// sealed batch.
	RequestUpdates(ctx context.Context, node peers.NodeInfo, since time.Time) ([]byte, error)
}

// SecureTransport seals batches before they leave the node.
type SecureTransport interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// TransferValidator checks the payload of an update before it is sent or
// accepted.
type TransferValidator interface {
	ValidateUpdate(payload []byte) error
}

// ChainEngine is the part of the consensus engine involved in fork handling.
type ChainEngine interface {
	CumulativeDifficulty() (uint64, error)
	ReplaceChain(blocks []*chain.Block) error
	ChainState() chain.ChainState
}
