package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"

	"github.com/handreceipt/ledger/src/common"
)

// ToPublicKey unmarshals the uncompressed form of a point on Curve(), as
// returned by FromPublicKey. It returns nil if the bytes are not a valid point.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(Curve(), pub)
	if x == nil {
		return nil
	}
	return &ecdsa.PublicKey{Curve: Curve(), X: x, Y: y}
}

// FromPublicKey outputs the point in uncompressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// PublicKeyID gives a compact uint32 representation of the public key. It is
// only used to shorten log lines; collisions are possible.
func PublicKeyID(pubBytes []byte) uint32 {
	return common.Hash32(pubBytes)
}

// PublicKeyHex returns the 0X-prefixed hex form of the uncompressed public
// key. This string identifies nodes and transfer signers.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}

// ParsePublicKeyHex is the inverse of PublicKeyHex.
func ParsePublicKeyHex(s string) (*ecdsa.PublicKey, error) {
	raw, err := common.DecodeFromString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding public key %q: %v", s, err)
	}
	pub := ToPublicKey(raw)
	if pub == nil {
		return nil, fmt.Errorf("%q is not a point on secp256k1", s)
	}
	return pub, nil
}
