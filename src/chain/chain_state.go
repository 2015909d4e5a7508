package chain

import "fmt"

// ChainStatus ...
type ChainStatus int

const (
	// Active chains accept new blocks.
	Active ChainStatus = iota
	// Suspended chains refuse new blocks until resumed.
	Suspended
	// Halted chains refuse new blocks permanently.
	Halted
)

func (s ChainStatus) String() string {
	switch s {
	case Active:
		return "Active"
	case Suspended:
		return "Suspended"
	case Halted:
		return "Halted"
	default:
		return fmt.Sprintf("ChainStatus(%d)", int(s))
	}
}

// ChainState summarises the tip of the chain.
type ChainState struct {
	LastBlockHash    string
	Height           uint64
	TransactionCount uint64
	Status           ChainStatus
}

// GenesisState is the state of a chain without blocks. The first block has
// height 1 and an empty PreviousHash.
func GenesisState() ChainState {
	return ChainState{Status: Active}
}

// Extend returns the state after appending b.
func (s ChainState) Extend(b *Block) ChainState {
	return ChainState{
		LastBlockHash:    b.Hex(),
		Height:           b.Height(),
		TransactionCount: s.TransactionCount + uint64(len(b.Transactions)),
		Status:           s.Status,
	}
}

// StateOf recomputes the state at the tip of blocks, keeping status.
func StateOf(blocks []*Block, status ChainStatus) ChainState {
	st := GenesisState()
	st.Status = status
	for _, b := range blocks {
		st = st.Extend(b)
	}
	return st
}
