// Package keys implements the public key cryptography used by ledger nodes and
// signing authorities.
//
// Every node owns a secp256k1 ECDSA key-pair. The private key signs property
// transfers and blocks; the uncompressed public key, in 0X-prefixed hex form,
// doubles as the node's identifier and as the signer id carried by transfer
// signatures, so any party can verify a signature without a key directory.
package keys
