// Package crypt encrypts box payloads with AES-GCM. Only the payload of a
// frame is encrypted; headers, keys and CRCs stay in the clear so recovery
// scans work without the key.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

var (
	ErrInvalidKeySize  = errors.New("cipher key must be 16, 24 or 32 bytes")
	ErrDecryptFailed   = errors.New("payload decryption failed")
	ErrShortCiphertext = errors.New("ciphertext shorter than nonce")
)

// Cipher seals and opens frame payloads. The key lives only in memory, the
// engine never persists it.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a payload cipher from a 16, 24 or 32 byte key.
func New(key []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext, prepending a random nonce.
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (c *Cipher) Decrypt(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrShortCiphertext
	}
	plain, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
