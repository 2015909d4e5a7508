package replication

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// Batch is what travels between nodes, sealed by the SecureTransport.
type Batch struct {
	From    string
	Updates []*SyncUpdate
}

// Marshal ...
func (b *Batch) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	enc := codec.NewEncoder(buf, jh)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal ...
func (b *Batch) Unmarshal(data []byte) error {
	buf := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(buf, jh)
	return dec.Decode(b)
}

// wire strips the local bookkeeping fields of an update before it is sent.
func wire(u *SyncUpdate) *SyncUpdate {
	return &SyncUpdate{
		ID:        u.ID,
		Payload:   u.Payload,
		Checksum:  u.Checksum,
		Timestamp: u.Timestamp,
		OriginID:  u.OriginID,
		Priority:  u.Priority,
	}
}
