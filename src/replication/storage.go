package replication

import (
	"sort"
	"time"
)

// Storage holds the sync updates of a node. Writes that belong to one sync
// round go through a Tx.
type Storage interface {
	// FetchPendingUpdates returns Pending updates with fewer than maxRetries
	// retries, highest priority first, then oldest first.
	FetchPendingUpdates(maxRetries int) ([]*SyncUpdate, error)
	// GetUpdates returns every local copy of a record.
	GetUpdates(id string) ([]*SyncUpdate, error)
	// Outstanding returns the updates modified after since.
	Outstanding(since time.Time) ([]*SyncUpdate, error)
	FailedUpdates() ([]*SyncUpdate, error)
	Begin() (Tx, error)
	// ArchiveAndDelete moves updates to the archive. Either all of them move
	// or none does.
	ArchiveAndDelete(updates []*SyncUpdate) error
	Archived() ([]*SyncUpdate, error)
	// DeleteCompletedBefore removes Completed updates last modified before t.
	DeleteCompletedBefore(t time.Time) (int, error)
	Close() error
}

// Tx is a storage transaction. Nothing written through a Tx is visible
// outside of it before Commit.
type Tx interface {
	GetUpdates(id string) ([]*SyncUpdate, error)
	// InsertUpdate fails with a KeyAlreadyExists StoreErr if the copy exists.
	InsertUpdate(u *SyncUpdate) error
	PutUpdate(u *SyncUpdate) error
	UpdateStatus(key string, status UpdateStatus, at time.Time) error
	Commit() error
	Rollback()
}

func sortPending(updates []*SyncUpdate) {
	sort.SliceStable(updates, func(i, j int) bool {
		if updates[i].Priority != updates[j].Priority {
			return updates[i].Priority > updates[j].Priority
		}
		if !updates[i].Timestamp.Equal(updates[j].Timestamp) {
			return updates[i].Timestamp.Before(updates[j].Timestamp)
		}
		return updates[i].Key() < updates[j].Key()
	})
}

func sortByKey(updates []*SyncUpdate) {
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Key() < updates[j].Key()
	})
}
