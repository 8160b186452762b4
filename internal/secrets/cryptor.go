// ABOUTME: Symmetric encryption for user integration credentials at rest
// ABOUTME: NaCl secretbox with a key derived from the configured passphrase

package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailed is returned when a ciphertext cannot be opened, either
// because the key is wrong or the payload was tampered with.
var ErrDecryptFailed = errors.New("decryption failed")

const nonceSize = 24

// Cryptor encrypts and decrypts small JSON documents with an authenticated
// symmetric cipher. The same passphrase always derives the same key, so
// ciphertexts survive process restarts.
type Cryptor struct {
	key [32]byte
}

// NewCryptor derives an encryption key from the passphrase.
func NewCryptor(passphrase string) (*Cryptor, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase must not be empty")
	}
	c := &Cryptor{key: sha256.Sum256([]byte(passphrase))}
	return c, nil
}

// Encrypt seals plaintext and returns base64(nonce || box).
func (c *Cryptor) Encrypt(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns ErrDecryptFailed when the payload does
// not authenticate under this cryptor's key.
func (c *Cryptor) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, ErrDecryptFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptJSON marshals v and encrypts the result.
func (c *Cryptor) EncryptJSON(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return c.Encrypt(plaintext)
}

// DecryptJSON decrypts ciphertext and unmarshals it into v.
func (c *Cryptor) DecryptJSON(ciphertext string, v any) error {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
