package replication

import (
	"bytes"
	"time"

	"github.com/handreceipt/ledger/src/crypto"
)

// Outcome of resolving a received update against a local one.
type Outcome uint8

const (
	// Identical versions, nothing to do.
	Identical Outcome = iota
	// Keep the local version.
	Keep
	// Replace the local version with the received one.
	Replace
	// Merge both versions.
	Merge
)

func (o Outcome) String() string {
	switch o {
	case Identical:
		return "identical"
	case Keep:
		return "keep"
	case Replace:
		return "replace"
	case Merge:
		return "merge"
	default:
		return "unknown"
	}
}

// Resolution is the result of Resolve. Update is the version that should
// stand: existing for Identical and Keep, received for Replace, a new update
// for Merge.
type Resolution struct {
	Outcome Outcome
	Update  *SyncUpdate
}

// Resolve decides between two versions of the same record. The later
// timestamp wins, then the higher priority. When both are equal the payloads
// are concatenated, lowest checksum first, into a Pending update with the
// higher priority and a timestamp just after both, so that two nodes merging
// the same pair derive the same update and the merge supersedes the originals.
func Resolve(existing, received *SyncUpdate) Resolution {
	if existing.SameContent(received) {
		return Resolution{Outcome: Identical, Update: existing}
	}

	switch {
	case received.Timestamp.After(existing.Timestamp):
		return Resolution{Outcome: Replace, Update: received}
	case existing.Timestamp.After(received.Timestamp):
		return Resolution{Outcome: Keep, Update: existing}
	case received.Priority > existing.Priority:
		return Resolution{Outcome: Replace, Update: received}
	case existing.Priority > received.Priority:
		return Resolution{Outcome: Keep, Update: existing}
	}

	return Resolution{Outcome: Merge, Update: merge(existing, received)}
}

// Settle breaks a full tie whose merged payload does not validate. The version
// with the lower checksum stands, so both sides settle on the same one.
func Settle(existing, received *SyncUpdate) Resolution {
	if received.Checksum < existing.Checksum {
		return Resolution{Outcome: Replace, Update: received}
	}
	return Resolution{Outcome: Keep, Update: existing}
}

func merge(a, b *SyncUpdate) *SyncUpdate {
	first, second := a, b
	if b.Checksum < a.Checksum {
		first, second = b, a
	}

	var payload bytes.Buffer
	payload.Write(first.Payload)
	payload.Write(second.Payload)

	ts := a.Timestamp
	if b.Timestamp.After(ts) {
		ts = b.Timestamp
	}
	ts = ts.Add(time.Nanosecond)

	priority := a.Priority
	if b.Priority > priority {
		priority = b.Priority
	}

	return &SyncUpdate{
		ID:          a.ID,
		Destination: a.Destination,
		Payload:     payload.Bytes(),
		Checksum:    crypto.Checksum(payload.Bytes()),
		Timestamp:   ts,
		OriginID:    first.OriginID,
		Status:      Pending,
		RetryCount:  0,
		Priority:    priority,
		UpdatedAt:   ts,
	}
}

// representative picks the version standing for a record among its local
// copies.
func representative(copies []*SyncUpdate) *SyncUpdate {
	best := copies[0]
	for _, c := range copies[1:] {
		if c.Timestamp.After(best.Timestamp) ||
			(c.Timestamp.Equal(best.Timestamp) && c.Priority > best.Priority) {
			best = c
		}
	}
	return best
}
