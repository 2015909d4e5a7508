package replication

import (
	"sync"
	"time"

	cm "github.com/handreceipt/ledger/src/common"
)

// InmemStorage implements Storage with maps.
type InmemStorage struct {
	sync.RWMutex
	updates map[string]*SyncUpdate
	archive map[string]*SyncUpdate
	closed  bool
}

// NewInmemStorage ...
func NewInmemStorage() *InmemStorage {
	return &InmemStorage{
		updates: make(map[string]*SyncUpdate),
		archive: make(map[string]*SyncUpdate),
	}
}

// FetchPendingUpdates implements Storage.
func (s *InmemStorage) FetchPendingUpdates(maxRetries int) ([]*SyncUpdate, error) {
	return s.filter(func(u *SyncUpdate) bool {
		return u.Status == Pending && u.RetryCount < maxRetries
	}, sortPending)
}

// GetUpdates implements Storage.
func (s *InmemStorage) GetUpdates(id string) ([]*SyncUpdate, error) {
	return s.filter(func(u *SyncUpdate) bool {
		return u.ID == id
	}, sortByKey)
}

// Outstanding implements Storage.
func (s *InmemStorage) Outstanding(since time.Time) ([]*SyncUpdate, error) {
	return s.filter(func(u *SyncUpdate) bool {
		return u.UpdatedAt.After(since)
	}, sortByKey)
}

// FailedUpdates implements Storage.
func (s *InmemStorage) FailedUpdates() ([]*SyncUpdate, error) {
	return s.filter(func(u *SyncUpdate) bool {
		return u.Status == Failed
	}, sortByKey)
}

func (s *InmemStorage) filter(keep func(*SyncUpdate) bool, order func([]*SyncUpdate)) ([]*SyncUpdate, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, cm.NewStoreErr("SyncUpdate", cm.Closed, "")
	}

	res := []*SyncUpdate{}
	for _, u := range s.updates {
		if keep(u) {
			res = append(res, u.clone())
		}
	}
	order(res)
	return res, nil
}

// Begin implements Storage.
func (s *InmemStorage) Begin() (Tx, error) {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return nil, cm.NewStoreErr("SyncUpdate", cm.Closed, "")
	}
	return &inmemTx{
		store:  s,
		staged: make(map[string]*SyncUpdate),
	}, nil
}

// ArchiveAndDelete implements Storage.
func (s *InmemStorage) ArchiveAndDelete(updates []*SyncUpdate) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return cm.NewStoreErr("SyncUpdate", cm.Closed, "")
	}

	for _, u := range updates {
		if _, ok := s.updates[u.Key()]; !ok {
			return cm.NewStoreErr("SyncUpdate", cm.KeyNotFound, u.Key())
		}
	}
	for _, u := range updates {
		s.archive[u.Key()] = s.updates[u.Key()]
		delete(s.updates, u.Key())
	}
	return nil
}

// Archived implements Storage.
func (s *InmemStorage) Archived() ([]*SyncUpdate, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*SyncUpdate{}
	for _, u := range s.archive {
		res = append(res, u.clone())
	}
	sortByKey(res)
	return res, nil
}

// DeleteCompletedBefore implements Storage.
func (s *InmemStorage) DeleteCompletedBefore(t time.Time) (int, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return 0, cm.NewStoreErr("SyncUpdate", cm.Closed, "")
	}

	n := 0
	for k, u := range s.updates {
		if u.Status == Completed && u.UpdatedAt.Before(t) {
			delete(s.updates, k)
			n++
		}
	}
	return n, nil
}

// Close implements Storage.
func (s *InmemStorage) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

// inmemTx stages writes and applies them under the store lock on Commit.
type inmemTx struct {
	store  *InmemStorage
	staged map[string]*SyncUpdate
	done   bool
}

func (tx *inmemTx) get(key string) (*SyncUpdate, bool) {
	if u, ok := tx.staged[key]; ok {
		return u, true
	}
	tx.store.RLock()
	defer tx.store.RUnlock()
	u, ok := tx.store.updates[key]
	return u, ok
}

func (tx *inmemTx) GetUpdates(id string) ([]*SyncUpdate, error) {
	keys := make(map[string]bool)
	tx.store.RLock()
	for k, u := range tx.store.updates {
		if u.ID == id {
			keys[k] = true
		}
	}
	tx.store.RUnlock()
	for k, u := range tx.staged {
		if u.ID == id {
			keys[k] = true
		}
	}

	res := []*SyncUpdate{}
	for k := range keys {
		u, _ := tx.get(k)
		res = append(res, u.clone())
	}
	sortByKey(res)
	return res, nil
}

func (tx *inmemTx) InsertUpdate(u *SyncUpdate) error {
	if _, ok := tx.get(u.Key()); ok {
		return cm.NewStoreErr("SyncUpdate", cm.KeyAlreadyExists, u.Key())
	}
	tx.staged[u.Key()] = u.clone()
	return nil
}

func (tx *inmemTx) PutUpdate(u *SyncUpdate) error {
	tx.staged[u.Key()] = u.clone()
	return nil
}

func (tx *inmemTx) UpdateStatus(key string, status UpdateStatus, at time.Time) error {
	u, ok := tx.get(key)
	if !ok {
		return cm.NewStoreErr("SyncUpdate", cm.KeyNotFound, key)
	}
	tx.staged[key] = u.WithStatus(status, at)
	return nil
}

func (tx *inmemTx) Commit() error {
	if tx.done {
		return cm.NewStoreErr("SyncUpdate", cm.Closed, "transaction")
	}
	tx.done = true

	tx.store.Lock()
	defer tx.store.Unlock()

	if tx.store.closed {
		return cm.NewStoreErr("SyncUpdate", cm.Closed, "")
	}
	for k, u := range tx.staged {
		tx.store.updates[k] = u
	}
	return nil
}

func (tx *inmemTx) Rollback() {
	tx.done = true
	tx.staged = nil
}
