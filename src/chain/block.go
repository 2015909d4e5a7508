package chain

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/handreceipt/ledger/src/common"
	"github.com/handreceipt/ledger/src/crypto"
	"github.com/handreceipt/ledger/src/crypto/keys"
	"github.com/handreceipt/ledger/src/merkle"
)

// BlockVersion is the header version written by this code.
const BlockVersion = 1

// BlockHeader is the part of a block covered by its hash.
type BlockHeader struct {
	Version        uint32
	Height         uint64
	PreviousHash   string
	MerkleRoot     string
	CreatedAt      time.Time
	Difficulty     uint64
	Nonce          uint64
	Classification Classification
}

// Marshal - json encoding of the header only
func (h *BlockHeader) Marshal() ([]byte, error) {
	bf := bytes.NewBuffer([]byte{})
	enc := json.NewEncoder(bf)
	if err := enc.Encode(h); err != nil {
		return nil, err
	}
	return bf.Bytes(), nil
}

// Hash ...
func (h *BlockHeader) Hash() ([]byte, error) {
	hashBytes, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// Block is a header plus the ordered transactions its Merkle root commits to.
// ConfirmedAt is set when the block is committed. Neither it nor the
// signatures are part of the hash.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	ConfirmedAt  *time.Time
	Signatures   map[string]string // [validator hex] => signature
}

// NewBlock assembles an unconfirmed block on top of the given parent hash.
func NewBlock(height uint64, previousHash string, txs []*Transaction, difficulty uint64) (*Block, error) {
	root, err := ComputeMerkleRoot(txs)
	if err != nil {
		return nil, err
	}

	return &Block{
		Header: BlockHeader{
			Version:        BlockVersion,
			Height:         height,
			PreviousHash:   previousHash,
			MerkleRoot:     root,
			CreatedAt:      time.Now().UTC(),
			Difficulty:     difficulty,
			Classification: MaxClassification(txs),
		},
		Transactions: txs,
		Signatures:   make(map[string]string),
	}, nil
}

// Height ...
func (b *Block) Height() uint64 {
	return b.Header.Height
}

// Hash ...
func (b *Block) Hash() ([]byte, error) {
	return b.Header.Hash()
}

// Hex returns the 0X-prefixed hex form of the block hash, which is what the
// next block records as PreviousHash.
func (b *Block) Hex() string {
	hash, err := b.Hash()
	if err != nil {
		return ""
	}
	return common.EncodeToString(hash)
}

// Sign adds the signature of the block hash by priv.
func (b *Block) Sign(priv *ecdsa.PrivateKey) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}
	sig, err := keys.SignMessage(priv, hash)
	if err != nil {
		return err
	}
	if b.Signatures == nil {
		b.Signatures = make(map[string]string)
	}
	b.Signatures[keys.PublicKeyHex(&priv.PublicKey)] = string(sig)
	return nil
}

// VerifySignature checks the signature recorded for a validator.
func (b *Block) VerifySignature(validator string) bool {
	sig, ok := b.Signatures[validator]
	if !ok {
		return false
	}
	pub, err := keys.ParsePublicKeyHex(validator)
	if err != nil {
		return false
	}
	hash, err := b.Hash()
	if err != nil {
		return false
	}
	return keys.VerifyMessage(pub, hash, []byte(sig))
}

// PayloadSize is the total size of the transaction payloads.
func (b *Block) PayloadSize() int {
	size := 0
	for _, tx := range b.Transactions {
		size += len(tx.Payload)
	}
	return size
}

// Confirmed ...
func (b *Block) Confirmed() bool {
	return b.ConfirmedAt != nil
}

// Marshal ...
func (b *Block) Marshal() ([]byte, error) {
	bf := bytes.NewBuffer([]byte{})
	enc := json.NewEncoder(bf)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return bf.Bytes(), nil
}

// Unmarshal ...
func (b *Block) Unmarshal(data []byte) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(b)
}

// MerkleTree rebuilds the tree over the block's transactions.
func (b *Block) MerkleTree() (*merkle.Tree, error) {
	return buildTree(b.Transactions)
}

// Proof returns the inclusion proof of a transaction of this block.
func (b *Block) Proof(txID string) (*merkle.Proof, error) {
	tree, err := b.MerkleTree()
	if err != nil {
		return nil, err
	}
	for i, tx := range b.Transactions {
		if tx.ID == txID {
			return tree.ProofForIndex(i)
		}
	}
	return nil, fmt.Errorf("transaction %s not in block %d: %w", txID, b.Height(), merkle.ErrLeafNotFound)
}

// ComputeMerkleRoot returns the hex Merkle root over the transactions, or the
// empty string when there are none.
func ComputeMerkleRoot(txs []*Transaction) (string, error) {
	tree, err := buildTree(txs)
	if err != nil {
		return "", err
	}
	root, ok := tree.Root()
	if !ok {
		return "", nil
	}
	return common.EncodeToString(root), nil
}

func buildTree(txs []*Transaction) (*merkle.Tree, error) {
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		leaves[i] = h
	}
	return merkle.NewFromLeaves(leaves), nil
}

// CumulativeDifficulty sums the difficulty of the blocks. Fork resolution
// prefers the chain with the larger sum.
func CumulativeDifficulty(blocks []*Block) uint64 {
	var total uint64
	for _, b := range blocks {
		total += b.Header.Difficulty
	}
	return total
}
