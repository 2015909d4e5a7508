package chain

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/handreceipt/ledger/src/crypto/keys"
	"github.com/handreceipt/ledger/src/merkle"
)

// Transaction is an opaque, signed payload recorded in a block. For custody
// records the payload is a JSON-encoded property transfer.
type Transaction struct {
	ID             string
	Timestamp      time.Time
	Payload        []byte
	Signature      []byte
	Classification Classification
}

// NewTransaction creates an unsigned transaction with a fresh id.
func NewTransaction(payload []byte, class Classification) *Transaction {
	return &Transaction{
		ID:             uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
		Classification: class,
	}
}

// Marshal returns the canonical serialization of the transaction. Merkle leaves
// are computed over these bytes.
func (tx *Transaction) Marshal() ([]byte, error) {
	bf := bytes.NewBuffer([]byte{})
	enc := json.NewEncoder(bf)
	if err := enc.Encode(tx); err != nil {
		return nil, err
	}
	return bf.Bytes(), nil
}

// Unmarshal ...
func (tx *Transaction) Unmarshal(data []byte) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(tx)
}

// Hash is the Merkle leaf of the transaction.
func (tx *Transaction) Hash() ([]byte, error) {
	b, err := tx.Marshal()
	if err != nil {
		return nil, err
	}
	return merkle.LeafHash(b), nil
}

// signingBytes covers everything but the signature itself.
func (tx *Transaction) signingBytes() ([]byte, error) {
	unsigned := *tx
	unsigned.Signature = nil
	return unsigned.Marshal()
}

// Sign sets the signature of the transaction.
func (tx *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	msg, err := tx.signingBytes()
	if err != nil {
		return err
	}
	sig, err := keys.SignMessage(priv, msg)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Verify checks the signature against pub.
func (tx *Transaction) Verify(pub *ecdsa.PublicKey) bool {
	msg, err := tx.signingBytes()
	if err != nil {
		return false
	}
	return keys.VerifyMessage(pub, msg, tx.Signature)
}
