package replication

import (
	"bytes"
	"fmt"
	"time"

	"github.com/handreceipt/ledger/src/crypto"
	"github.com/ugorji/go/codec"
)

// UpdateStatus is the lifecycle state of a SyncUpdate.
type UpdateStatus uint8

const (
	// Pending updates wait for the next sync cycle.
	Pending UpdateStatus = iota
	// InProgress updates belong to a batch being synced.
	InProgress
	// Completed updates were delivered, or received from a peer.
	Completed
	// Failed updates reached the retry cap and wait to be archived.
	Failed
)

func (s UpdateStatus) String() string {
	switch s {
	case Pending:
		return "Pending"
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SyncUpdate is one copy of a replicated record. ID identifies the record
// across nodes; Destination is the peer this copy is bound for, empty for
// copies that were received or that only exist locally.
//
// SyncUpdates are never modified in place: the With* helpers return copies.
type SyncUpdate struct {
	ID          string
	Destination string
	Payload     []byte
	Checksum    string
	Timestamp   time.Time
	OriginID    string
	Status      UpdateStatus
	RetryCount  int
	Priority    int
	UpdatedAt   time.Time
}

// NewSyncUpdate creates a Pending update and computes its checksum.
func NewSyncUpdate(id, origin, destination string, payload []byte, priority int, timestamp time.Time) *SyncUpdate {
	return &SyncUpdate{
		ID:          id,
		Destination: destination,
		Payload:     payload,
		Checksum:    crypto.Checksum(payload),
		Timestamp:   timestamp.UTC(),
		OriginID:    origin,
		Status:      Pending,
		Priority:    priority,
		UpdatedAt:   timestamp.UTC(),
	}
}

// Key identifies a copy in storage.
func Key(id, destination string) string {
	return id + "_" + destination
}

// Key ...
func (u *SyncUpdate) Key() string {
	return Key(u.ID, u.Destination)
}

// VerifyChecksum recomputes the checksum of the payload.
func (u *SyncUpdate) VerifyChecksum() bool {
	return crypto.Checksum(u.Payload) == u.Checksum
}

func (u *SyncUpdate) clone() *SyncUpdate {
	c := *u
	c.Payload = append([]byte(nil), u.Payload...)
	return &c
}

// WithStatus returns a copy with a new status.
func (u *SyncUpdate) WithStatus(status UpdateStatus, at time.Time) *SyncUpdate {
	c := u.clone()
	c.Status = status
	c.UpdatedAt = at.UTC()
	return c
}

// WithContent returns a copy carrying the record content of other: payload,
// checksum, timestamp, origin and priority. Destination, status and retry
// count stay those of u.
func (u *SyncUpdate) WithContent(other *SyncUpdate, at time.Time) *SyncUpdate {
	c := u.clone()
	c.Payload = append([]byte(nil), other.Payload...)
	c.Checksum = other.Checksum
	c.Timestamp = other.Timestamp
	c.OriginID = other.OriginID
	c.Priority = other.Priority
	c.UpdatedAt = at.UTC()
	return c
}

// WithFailure returns a copy with one more retry, Failed if that reaches
// maxRetries and Pending otherwise.
func (u *SyncUpdate) WithFailure(maxRetries int, at time.Time) *SyncUpdate {
	c := u.clone()
	c.RetryCount++
	if c.RetryCount >= maxRetries {
		c.Status = Failed
	} else {
		c.Status = Pending
	}
	c.UpdatedAt = at.UTC()
	return c
}

// SameContent reports whether two copies hold the same record version.
func (u *SyncUpdate) SameContent(other *SyncUpdate) bool {
	return u.Checksum == other.Checksum &&
		u.Timestamp.Equal(other.Timestamp) &&
		u.Priority == other.Priority
}

// Marshal ...
func (u *SyncUpdate) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	enc := codec.NewEncoder(b, jh)
	if err := enc.Encode(u); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal ...
func (u *SyncUpdate) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(b, jh)
	return dec.Decode(u)
}

func (u *SyncUpdate) String() string {
	return fmt.Sprintf("%s->%s %s prio=%d retries=%d", u.ID, u.Destination, u.Status, u.Priority, u.RetryCount)
}
