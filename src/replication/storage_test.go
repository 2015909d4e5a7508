package replication

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/handreceipt/ledger/src/common"
)

func storages(t *testing.T) (map[string]Storage, func()) {
	dir, err := ioutil.TempDir("", "sync_badger")
	if err != nil {
		t.Fatal(err)
	}

	bs, err := NewBadgerStorage(dir, common.NewTestEntry(t, "badger"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}

	res := map[string]Storage{
		"inmem":  NewInmemStorage(),
		"badger": bs,
	}

	return res, func() {
		for _, s := range res {
			s.Close()
		}
		os.RemoveAll(dir)
	}
}

func put(t *testing.T, s Storage, updates ...*SyncUpdate) {
	tx, err := s.Begin()
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range updates {
		if err := tx.InsertUpdate(u); err != nil {
			tx.Rollback()
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestStorageTransactions(t *testing.T) {
	all, cleanup := storages(t)
	defer cleanup()

	for name, s := range all {
		u := NewSyncUpdate("rec1", "A", "B", []byte("p1"), 1, t0)

		tx, err := s.Begin()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := tx.InsertUpdate(u); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := tx.InsertUpdate(u); !common.IsStore(err, common.KeyAlreadyExists) {
			t.Fatalf("%s: duplicate insert should fail with KeyAlreadyExists, got %v", name, err)
		}

		inTx, _ := tx.GetUpdates("rec1")
		if len(inTx) != 1 {
			t.Fatalf("%s: a transaction should read its own writes", name)
		}
		outside, _ := s.GetUpdates("rec1")
		if len(outside) != 0 {
			t.Fatalf("%s: uncommitted writes are visible", name)
		}

		tx.Rollback()
		if after, _ := s.GetUpdates("rec1"); len(after) != 0 {
			t.Fatalf("%s: rolled back writes are visible", name)
		}

		put(t, s, u)

		tx, _ = s.Begin()
		if err := tx.UpdateStatus(u.Key(), InProgress, t0.Add(time.Minute)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := tx.UpdateStatus("missing_B", InProgress, t0); !common.IsStore(err, common.KeyNotFound) {
			t.Fatalf("%s: expected KeyNotFound, got %v", name, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		got, _ := s.GetUpdates("rec1")
		if len(got) != 1 || got[0].Status != InProgress || !got[0].UpdatedAt.Equal(t0.Add(time.Minute)) {
			t.Fatalf("%s: status update was not committed: %v", name, got)
		}
		if string(got[0].Payload) != "p1" || !got[0].VerifyChecksum() {
			t.Fatalf("%s: content was not preserved", name)
		}
	}
}

func TestStorageFetchPending(t *testing.T) {
	all, cleanup := storages(t)
	defer cleanup()

	for name, s := range all {
		lowOld := NewSyncUpdate("r1", "A", "B", []byte("1"), 1, t0)
		lowNew := NewSyncUpdate("r2", "A", "B", []byte("2"), 1, t0.Add(time.Second))
		high := NewSyncUpdate("r3", "A", "C", []byte("3"), 9, t0.Add(time.Hour))
		retried := NewSyncUpdate("r4", "A", "B", []byte("4"), 5, t0)
		retried.RetryCount = 3
		done := NewSyncUpdate("r5", "A", "B", []byte("5"), 5, t0).WithStatus(Completed, t0)

		put(t, s, lowNew, retried, high, done, lowOld)

		pending, err := s.FetchPendingUpdates(3)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		expected := []string{"r3", "r1", "r2"}
		if len(pending) != len(expected) {
			t.Fatalf("%s: expected %d pending updates, got %d", name, len(expected), len(pending))
		}
		for i, id := range expected {
			if pending[i].ID != id {
				t.Fatalf("%s: pending[%d] should be %s, not %s", name, i, id, pending[i].ID)
			}
		}

		since, _ := s.Outstanding(t0.Add(time.Minute))
		if len(since) != 1 || since[0].ID != "r3" {
			t.Fatalf("%s: Outstanding should only return r3, got %v", name, since)
		}
	}
}

func TestStorageArchiveAndDelete(t *testing.T) {
	all, cleanup := storages(t)
	defer cleanup()

	for name, s := range all {
		f1 := NewSyncUpdate("r1", "A", "B", []byte("1"), 1, t0).WithStatus(Failed, t0)
		f2 := NewSyncUpdate("r2", "A", "B", []byte("2"), 1, t0).WithStatus(Failed, t0)
		ok := NewSyncUpdate("r3", "A", "B", []byte("3"), 1, t0)
		put(t, s, f1, f2, ok)

		ghost := NewSyncUpdate("r9", "A", "B", []byte("9"), 1, t0)
		if err := s.ArchiveAndDelete([]*SyncUpdate{f1, ghost}); err == nil {
			t.Fatalf("%s: archiving a missing update should fail", name)
		}
		if failed, _ := s.FailedUpdates(); len(failed) != 2 {
			t.Fatalf("%s: a failed archive should not delete anything", name)
		}
		if archived, _ := s.Archived(); len(archived) != 0 {
			t.Fatalf("%s: a failed archive should not archive anything", name)
		}

		failed, _ := s.FailedUpdates()
		if err := s.ArchiveAndDelete(failed); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if failed, _ := s.FailedUpdates(); len(failed) != 0 {
			t.Fatalf("%s: failed updates should be gone", name)
		}
		archived, _ := s.Archived()
		if len(archived) != 2 || archived[0].ID != "r1" || archived[1].ID != "r2" {
			t.Fatalf("%s: expected r1 and r2 in the archive, got %v", name, archived)
		}
		if rest, _ := s.GetUpdates("r3"); len(rest) != 1 {
			t.Fatalf("%s: other updates should be untouched", name)
		}
	}
}

func TestStorageDeleteCompleted(t *testing.T) {
	all, cleanup := storages(t)
	defer cleanup()

	for name, s := range all {
		old := NewSyncUpdate("r1", "A", "B", []byte("1"), 1, t0).WithStatus(Completed, t0)
		recent := NewSyncUpdate("r2", "A", "B", []byte("2"), 1, t0).WithStatus(Completed, t0.Add(48*time.Hour))
		pendingOld := NewSyncUpdate("r3", "A", "B", []byte("3"), 1, t0)
		put(t, s, old, recent, pendingOld)

		n, err := s.DeleteCompletedBefore(t0.Add(24 * time.Hour))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if n != 1 {
			t.Fatalf("%s: expected 1 deletion, got %d", name, n)
		}
		if u, _ := s.GetUpdates("r1"); len(u) != 0 {
			t.Fatalf("%s: old completed update should be deleted", name)
		}
		if u, _ := s.GetUpdates("r3"); len(u) != 1 {
			t.Fatalf("%s: pending updates are never cleaned up", name)
		}
	}
}

func TestBadgerStorageReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "sync_badger_reopen")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := NewBadgerStorage(dir, common.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	put(t, s, NewSyncUpdate("r1", "A", "B", []byte("kept"), 4, t0))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBadgerStorage(dir, common.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.GetUpdates("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || string(got[0].Payload) != "kept" || got[0].Priority != 4 {
		t.Fatalf("update was not persisted: %v", got)
	}
}
