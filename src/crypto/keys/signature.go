package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/handreceipt/ledger/src/crypto"
)

// Sign signs the data with the private key and rand.Reader.
func Sign(priv *ecdsa.PrivateKey, data []byte) (r, s *big.Int, err error) {
	return ecdsa.Sign(rand.Reader, priv, data)
}

// Verify reports whether r and s are a valid signature of data by the owner of
// pub.
func Verify(pub *ecdsa.PublicKey, data []byte, r, s *big.Int) bool {
	return ecdsa.Verify(pub, data, r, s)
}

// EncodeSignature returns the r|s base36 form of a signature.
func EncodeSignature(r, s *big.Int) string {
	return fmt.Sprintf("%s|%s", r.Text(36), s.Text(36))
}

// DecodeSignature parses a string produced by EncodeSignature.
func DecodeSignature(sig string) (r, s *big.Int, err error) {
	values := strings.Split(sig, "|")
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("wrong number of values in signature: got %d, want 2", len(values))
	}
	var ok bool
	if r, ok = new(big.Int).SetString(values[0], 36); !ok {
		return nil, nil, fmt.Errorf("malformed r value %q", values[0])
	}
	if s, ok = new(big.Int).SetString(values[1], 36); !ok {
		return nil, nil, fmt.Errorf("malformed s value %q", values[1])
	}
	return r, s, nil
}

// SignMessage hashes msg with SHA256, signs the digest and returns the encoded
// signature bytes.
func SignMessage(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	r, s, err := Sign(priv, crypto.SHA256(msg))
	if err != nil {
		return nil, err
	}
	return []byte(EncodeSignature(r, s)), nil
}

// VerifyMessage checks a signature produced by SignMessage. Malformed
// signatures simply fail verification.
func VerifyMessage(pub *ecdsa.PublicKey, msg []byte, sig []byte) bool {
	if pub == nil {
		return false
	}
	r, s, err := DecodeSignature(string(sig))
	if err != nil {
		return false
	}
	return Verify(pub, crypto.SHA256(msg), r, s)
}
