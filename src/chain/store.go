package chain

// Store persists the chain. Implementations must make CommitBlock and
// ReplaceChain atomic: readers see either the old chain or the new one.
type Store interface {
	// LastBlock returns the block at the tip. It returns a StoreErr of type
	// Empty when the chain has no blocks.
	LastBlock() (*Block, error)
	// GetBlock returns the block at a given height.
	GetBlock(height uint64) (*Block, error)
	// Blocks returns the whole chain ordered by height.
	Blocks() ([]*Block, error)
	// ChainState returns the state at the tip.
	ChainState() (ChainState, error)
	// SetChainState overwrites the state without touching blocks. It is used
	// for status transitions.
	SetChainState(state ChainState) error
	// CommitBlock appends a block and records the matching state.
	CommitBlock(block *Block, state ChainState) error
	// ReplaceChain swaps the entire chain and state.
	ReplaceChain(blocks []*Block, state ChainState) error
	// Close releases the resources held by the store.
	Close() error
}
