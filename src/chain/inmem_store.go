package chain

import (
	"strconv"
	"sync"

	cm "github.com/handreceipt/ledger/src/common"
)

// InmemStore implements the Store interface in memory. Nothing survives a
// restart, so it is meant for tests and throwaway nodes.
type InmemStore struct {
	sync.RWMutex
	blocks []*Block
	state  ChainState
}

// NewInmemStore creates an empty chain at genesis.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		state: GenesisState(),
	}
}

// LastBlock implements the Store interface.
func (s *InmemStore) LastBlock() (*Block, error) {
	s.RLock()
	defer s.RUnlock()
	if len(s.blocks) == 0 {
		return nil, cm.NewStoreErr("Block", cm.Empty, "")
	}
	return s.blocks[len(s.blocks)-1], nil
}

// GetBlock implements the Store interface.
func (s *InmemStore) GetBlock(height uint64) (*Block, error) {
	s.RLock()
	defer s.RUnlock()
	if height == 0 || height > uint64(len(s.blocks)) {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, strconv.FormatUint(height, 10))
	}
	return s.blocks[height-1], nil
}

// Blocks implements the Store interface.
func (s *InmemStore) Blocks() ([]*Block, error) {
	s.RLock()
	defer s.RUnlock()
	res := make([]*Block, len(s.blocks))
	copy(res, s.blocks)
	return res, nil
}

// ChainState implements the Store interface.
func (s *InmemStore) ChainState() (ChainState, error) {
	s.RLock()
	defer s.RUnlock()
	return s.state, nil
}

// SetChainState implements the Store interface.
func (s *InmemStore) SetChainState(state ChainState) error {
	s.Lock()
	defer s.Unlock()
	s.state = state
	return nil
}

// CommitBlock implements the Store interface.
func (s *InmemStore) CommitBlock(block *Block, state ChainState) error {
	s.Lock()
	defer s.Unlock()
	if block.Height() != uint64(len(s.blocks))+1 {
		return cm.NewStoreErr("Block", cm.KeyAlreadyExists, strconv.FormatUint(block.Height(), 10))
	}
	s.blocks = append(s.blocks, block)
	s.state = state
	return nil
}

// ReplaceChain implements the Store interface.
func (s *InmemStore) ReplaceChain(blocks []*Block, state ChainState) error {
	s.Lock()
	defer s.Unlock()
	s.blocks = make([]*Block, len(blocks))
	copy(s.blocks, blocks)
	s.state = state
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
