package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertextTooShort is returned when a sealed message cannot even contain
// its nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// SecretBox seals sync batches with XChaCha20-Poly1305 under a key shared by
// the nodes of a deployment. Sealed messages are nonce || ciphertext.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox creates a SecretBox from a 32 byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %v", err)
	}
	return &SecretBox{aead: aead}, nil
}

// NewSecretBoxFromPassphrase derives the key as the SHA256 of the passphrase.
func NewSecretBoxFromPassphrase(passphrase string) (*SecretBox, error) {
	return NewSecretBox(SHA256([]byte(passphrase)))
}

// Encrypt implements the secure transport used by the sync manager.
func (b *SecretBox) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a message produced by Encrypt.
func (b *SecretBox) Decrypt(sealed []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(sealed) < ns+b.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := b.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed message: %v", err)
	}
	return plaintext, nil
}
