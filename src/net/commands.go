package net

import (
	"time"

	"github.com/handreceipt/ledger/src/chain"
)

// SendUpdatesRequest pushes a sealed batch of sync updates.
type SendUpdatesRequest struct {
	FromID string
	Batch  []byte
}

// SendUpdatesResponse indicates whether the batch was applied.
type SendUpdatesResponse struct {
	FromID  string
	Success bool
}

// RequestUpdatesRequest asks for the updates modified after Since.
type RequestUpdatesRequest struct {
	FromID string
	Since  time.Time
}

// RequestUpdatesResponse carries the requested updates as a sealed batch.
type RequestUpdatesResponse struct {
	FromID string
	Batch  []byte
}

// ChainInfoRequest asks for a summary of the responder's chain.
type ChainInfoRequest struct {
	FromID string
}

// ChainInfoResponse summarizes a chain so that the requester can tell whether
// it is worth fetching.
type ChainInfoResponse struct {
	FromID               string
	Height               uint64
	LastBlockHash        string
	CumulativeDifficulty uint64
}

// ChainRequest asks for the responder's whole chain.
type ChainRequest struct {
	FromID string
}

// ChainResponse carries a chain from height 1.
type ChainResponse struct {
	FromID string
	Blocks []*chain.Block
}
