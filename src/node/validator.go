package node

import (
	"crypto/ecdsa"

	"github.com/handreceipt/ledger/src/chain"
	"github.com/handreceipt/ledger/src/crypto/keys"
)

// Validator holds the key a node signs blocks and transactions with.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	pubHex string
}

// NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
		pubHex:  keys.PublicKeyHex(&key.PublicKey),
	}
}

// ID is the public key hex of the validator. It is the id of the node in the
// peer set, the validator set, and block signatures.
func (v *Validator) ID() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

// ChainValidator returns the entry of this validator in a consensus
// validator set.
func (v *Validator) ChainValidator() *chain.Validator {
	return chain.NewValidator(v.ID(), v.Moniker)
}
