package merkle

import (
	"github.com/handreceipt/ledger/src/crypto"
)

const (
	leafPrefix  byte = 0x00
	innerPrefix byte = 0x01
)

// LeafHash hashes an item into a leaf.
func LeafHash(item []byte) []byte {
	buf := make([]byte, 0, len(item)+1)
	buf = append(buf, leafPrefix)
	buf = append(buf, item...)
	return crypto.SHA256(buf)
}

// InnerHash hashes two children into their parent. The prefixes keep an
// interior node from ever equalling a leaf.
func InnerHash(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+1)
	buf = append(buf, innerPrefix)
	buf = append(buf, left...)
	return crypto.SimpleHashFromTwoHashes(buf, right)
}
