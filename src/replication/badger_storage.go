package replication

import (
	"time"

	"github.com/dgraph-io/badger"
	cm "github.com/handreceipt/ledger/src/common"
	"github.com/sirupsen/logrus"
)

const (
	updatePrefix  = "update_"
	archivePrefix = "archive_"
)

// BadgerStorage implements Storage on a Badger database. Badger transactions
// read their own writes, which Tx relies on.
type BadgerStorage struct {
	db   *badger.DB
	path string
}

// NewBadgerStorage opens or creates a database in path.
func NewBadgerStorage(path string, logger *logrus.Entry) (*BadgerStorage, error) {
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

	return &BadgerStorage{
		db:   handle,
		path: path,
	}, nil
}

// StorePath ...
func (s *BadgerStorage) StorePath() string {
	return s.path
}

func updateKey(key string) []byte {
	return []byte(updatePrefix + key)
}

func archiveKey(key string) []byte {
	return []byte(archivePrefix + key)
}

// FetchPendingUpdates implements Storage.
func (s *BadgerStorage) FetchPendingUpdates(maxRetries int) ([]*SyncUpdate, error) {
	res, err := s.scan(updatePrefix, func(u *SyncUpdate) bool {
		return u.Status == Pending && u.RetryCount < maxRetries
	})
	if err != nil {
		return nil, err
	}
	sortPending(res)
	return res, nil
}

// GetUpdates implements Storage.
func (s *BadgerStorage) GetUpdates(id string) ([]*SyncUpdate, error) {
	var res []*SyncUpdate
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = scanTxn(txn, updatePrefix+id+"_", nil)
		return err
	})
	return res, err
}

// Outstanding implements Storage.
func (s *BadgerStorage) Outstanding(since time.Time) ([]*SyncUpdate, error) {
	return s.scan(updatePrefix, func(u *SyncUpdate) bool {
		return u.UpdatedAt.After(since)
	})
}

// FailedUpdates implements Storage.
func (s *BadgerStorage) FailedUpdates() ([]*SyncUpdate, error) {
	return s.scan(updatePrefix, func(u *SyncUpdate) bool {
		return u.Status == Failed
	})
}

// Archived implements Storage.
func (s *BadgerStorage) Archived() ([]*SyncUpdate, error) {
	return s.scan(archivePrefix, nil)
}

func (s *BadgerStorage) scan(prefix string, keep func(*SyncUpdate) bool) ([]*SyncUpdate, error) {
	var res []*SyncUpdate
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = scanTxn(txn, prefix, keep)
		return err
	})
	return res, err
}

// scanTxn returns the updates under prefix, in key order.
func scanTxn(txn *badger.Txn, prefix string, keep func(*SyncUpdate) bool) ([]*SyncUpdate, error) {
	res := []*SyncUpdate{}

	p := []byte(prefix)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		u := new(SyncUpdate)
		if err := u.Unmarshal(val); err != nil {
			return nil, cm.NewStoreErr("SyncUpdate", cm.Corrupted, string(it.Item().Key()))
		}
		if keep == nil || keep(u) {
			res = append(res, u)
		}
	}

	return res, nil
}

// Begin implements Storage.
func (s *BadgerStorage) Begin() (Tx, error) {
	return &badgerTx{txn: s.db.NewTransaction(true)}, nil
}

// ArchiveAndDelete implements Storage. Copies are written under the archive
// prefix and removed from the active ones in one transaction.
func (s *BadgerStorage) ArchiveAndDelete(updates []*SyncUpdate) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for _, u := range updates {
		item, err := tx.Get(updateKey(u.Key()))
		if err != nil {
			return mapError(err, u.Key())
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := tx.Set(archiveKey(u.Key()), val); err != nil {
			return err
		}
		if err := tx.Delete(updateKey(u.Key())); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteCompletedBefore implements Storage.
func (s *BadgerStorage) DeleteCompletedBefore(t time.Time) (int, error) {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	stale, err := scanTxn(tx, updatePrefix, func(u *SyncUpdate) bool {
		return u.Status == Completed && u.UpdatedAt.Before(t)
	})
	if err != nil {
		return 0, err
	}

	for _, u := range stale {
		if err := tx.Delete(updateKey(u.Key())); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(stale), nil
}

// Close implements Storage.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func (tx *badgerTx) GetUpdates(id string) ([]*SyncUpdate, error) {
	return scanTxn(tx.txn, updatePrefix+id+"_", nil)
}

func (tx *badgerTx) InsertUpdate(u *SyncUpdate) error {
	_, err := tx.txn.Get(updateKey(u.Key()))
	if err == nil {
		return cm.NewStoreErr("SyncUpdate", cm.KeyAlreadyExists, u.Key())
	}
	if !isDBKeyNotFound(err) {
		return err
	}
	return tx.PutUpdate(u)
}

func (tx *badgerTx) PutUpdate(u *SyncUpdate) error {
	val, err := u.Marshal()
	if err != nil {
		return err
	}
	return tx.txn.Set(updateKey(u.Key()), val)
}

func (tx *badgerTx) UpdateStatus(key string, status UpdateStatus, at time.Time) error {
	item, err := tx.txn.Get(updateKey(key))
	if err != nil {
		return mapError(err, key)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	u := new(SyncUpdate)
	if err := u.Unmarshal(val); err != nil {
		return cm.NewStoreErr("SyncUpdate", cm.Corrupted, key)
	}
	return tx.PutUpdate(u.WithStatus(status, at))
}

func (tx *badgerTx) Commit() error {
	return tx.txn.Commit()
}

func (tx *badgerTx) Rollback() {
	tx.txn.Discard()
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, key string) error {
	if isDBKeyNotFound(err) {
		return cm.NewStoreErr("SyncUpdate", cm.KeyNotFound, key)
	}
	return err
}
