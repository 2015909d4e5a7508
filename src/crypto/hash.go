package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// SimpleHashFromTwoHashes returns the SHA256 hash of the concatenation of left
// and right data. Merkle interior nodes are built with it.
func SimpleHashFromTwoHashes(left []byte, right []byte) []byte {
	var hasher = sha256.New()
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}

// Checksum returns the lowercase hex SHA256 digest of the raw bytes. Sync
// payloads carry it so receivers can detect corruption.
func Checksum(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}
