package authority

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/handreceipt/ledger/src/chain"
)

// recordNamespace scopes the record ids derived from property ids.
var recordNamespace = uuid.MustParse("6f1c9a38-3c57-4b8e-9d8f-4a1f0b9e2c71")

// TransferSignature is one signer's approval of a transfer. SignerID is the
// signer's public key hex, so signatures verify without a key directory.
type TransferSignature struct {
	SignerID  string    `json:"signer_id"`
	UnitCode  string    `json:"unit_code"`
	Role      Role      `json:"role"`
	Signature []byte    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// PropertyTransfer moves a property from one custodian to another. A nil
// FromCustodian denotes an initial issue from stock.
type PropertyTransfer struct {
	PropertyID       string               `json:"property_id"`
	FromCustodian    *string              `json:"from_custodian,omitempty"`
	FromUnit         string               `json:"from_unit,omitempty"`
	ToCustodian      string               `json:"to_custodian"`
	ToUnit           string               `json:"to_unit"`
	InitiatedBy      string               `json:"initiated_by"`
	RequiresApproval bool                 `json:"requires_approval"`
	CreatedAt        time.Time            `json:"created_at"`
	Classification   chain.Classification `json:"classification"`
	Signatures       []TransferSignature  `json:"signatures,omitempty"`
}

// SigningBytes is the canonical content every signer signs. Signatures are
// excluded so they can be collected independently.
func (t *PropertyTransfer) SigningBytes() ([]byte, error) {
	unsigned := *t
	unsigned.Signatures = nil
	return json.Marshal(&unsigned)
}

// Marshal ...
func (t *PropertyTransfer) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// AddSignature appends sig.
func (t *PropertyTransfer) AddSignature(sig TransferSignature) {
	t.Signatures = append(t.Signatures, sig)
}

// RecordID is the replication id of the property's custody record. Every node
// derives the same id for the same property, so concurrent transfers of a
// property collide and go through conflict resolution.
func (t *PropertyTransfer) RecordID() string {
	return RecordID(t.PropertyID)
}

// RecordID derives a deterministic id from a property id.
func RecordID(propertyID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(propertyID)).String()
}

// DecodeTransfers reads every transfer from a payload. A payload is one or
// more JSON documents back to back, which is also what a merge of two
// payloads produces.
func DecodeTransfers(payload []byte) ([]*PropertyTransfer, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	var res []*PropertyTransfer
	for {
		t := new(PropertyTransfer)
		err := dec.Decode(t)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newErr(Malformed, "payload", err.Error())
		}
		res = append(res, t)
	}
	if len(res) == 0 {
		return nil, newErr(Malformed, "payload", "no transfer")
	}
	return res, nil
}
