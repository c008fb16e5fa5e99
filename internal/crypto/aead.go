package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	nonceSize = 12
	keySize   = 32
	tagSize   = 16
)

var (
	// ErrAuthentication means the GCM tag did not verify: tampering, the
	// wrong key, or a corrupted blob.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrFormat means the stored blob is not valid base64 or is shorter
	// than one nonce.
	ErrFormat = errors.New("malformed ciphertext blob")
)

// Encrypt seals plaintext with AES-256-GCM and returns
// base64(nonce || ciphertext+tag). A fresh random nonce is drawn on every
// call; nonce reuse under one key breaks confidentiality entirely.
func Encrypt(plaintext string, key, aad []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation: %w", err)
	}

	blob := aead.Seal(nonce, nonce, []byte(plaintext), aad)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt under the same key and
// associated data.
func Decrypt(blobB64 string, key, aad []byte) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrFormat)
	}
	if len(blob) < nonceSize {
		return "", fmt.Errorf("%w: %d bytes, shorter than nonce", ErrFormat, len(blob))
	}

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce, ct := blob[:nonceSize], blob[nonceSize:]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(pt), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
