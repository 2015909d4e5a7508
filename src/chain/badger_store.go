package chain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger"
	cm "github.com/handreceipt/ledger/src/common"
	"github.com/sirupsen/logrus"
)

const (
	blockPrefix   = "block"
	chainStateKey = "chain_state"
)

// BadgerStore persists the chain in a Badger database. An InmemStore mirrors
// the database so reads never hit disk.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
}

// NewBadgerStore opens an existing database, loading its blocks in memory, or
// creates a new one if nothing is found in path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("ns", "badger"))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	if err := store.load(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// StorePath returns the directory of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", blockPrefix, height))
}

// LastBlock implements the Store interface.
func (s *BadgerStore) LastBlock() (*Block, error) {
	return s.inmemStore.LastBlock()
}

// GetBlock implements the Store interface.
func (s *BadgerStore) GetBlock(height uint64) (*Block, error) {
	return s.inmemStore.GetBlock(height)
}

// Blocks implements the Store interface.
func (s *BadgerStore) Blocks() ([]*Block, error) {
	return s.inmemStore.Blocks()
}

// ChainState implements the Store interface.
func (s *BadgerStore) ChainState() (ChainState, error) {
	return s.inmemStore.ChainState()
}

// SetChainState implements the Store interface.
func (s *BadgerStore) SetChainState(state ChainState) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := setChainState(tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.inmemStore.SetChainState(state)
}

// CommitBlock implements the Store interface. The block and the state are
// written in a single transaction.
func (s *BadgerStore) CommitBlock(block *Block, state ChainState) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := setBlock(tx, block); err != nil {
		return err
	}
	if err := setChainState(tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	return s.inmemStore.CommitBlock(block, state)
}

// ReplaceChain implements the Store interface. Existing blocks are deleted and
// the new ones written in the same transaction.
func (s *BadgerStore) ReplaceChain(blocks []*Block, state ChainState) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	prefix := []byte(blockPrefix + "_")
	var stale [][]byte

	it := tx.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		stale = append(stale, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range stale {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	for _, b := range blocks {
		if err := setBlock(tx, b); err != nil {
			return err
		}
	}
	if err := setChainState(tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	return s.inmemStore.ReplaceChain(blocks, state)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
// DB Methods

func (s *BadgerStore) load() error {
	var blocks []*Block
	state := GenesisState()

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chainStateKey))
		if err != nil && !isDBKeyNotFound(err) {
			return err
		}
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(val, &state); err != nil {
				return cm.NewStoreErr("ChainState", cm.Corrupted, chainStateKey)
			}
		}

		prefix := []byte(blockPrefix + "_")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			block := new(Block)
			if err := block.Unmarshal(val); err != nil {
				return cm.NewStoreErr("Block", cm.Corrupted, string(it.Item().Key()))
			}
			blocks = append(blocks, block)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.inmemStore.ReplaceChain(blocks, state)
}

func (s *BadgerStore) dbGetBlock(height uint64) (*Block, error) {
	var blockBytes []byte
	key := blockKey(height)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(err, "Block", strconv.FormatUint(height, 10))
	}

	block := new(Block)
	if err := block.Unmarshal(blockBytes); err != nil {
		return nil, err
	}

	return block, nil
}

func setBlock(tx *badger.Txn, block *Block) error {
	val, err := block.Marshal()
	if err != nil {
		return err
	}
	return tx.Set(blockKey(block.Height()), val)
}

func setChainState(tx *badger.Txn, state ChainState) error {
	val, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return tx.Set([]byte(chainStateKey), val)
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
