package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Deriver produces per-thread encryption keys from a single master secret,
// so no key material is ever stored per thread. The thread id is bound into
// the HKDF info parameter, which keeps keys for different threads
// cryptographically independent.
type Deriver struct {
	master []byte
}

// NewDeriver creates a Deriver over a validated 32-byte master secret.
// Validation happens in config at startup; a wrong-sized key here is a
// programming error.
func NewDeriver(master []byte) (*Deriver, error) {
	if len(master) != keySize {
		return nil, fmt.Errorf("master secret must be %d bytes, got %d", keySize, len(master))
	}
	d := &Deriver{master: make([]byte, keySize)}
	copy(d.master, master)
	return d, nil
}

// DeriveThreadKey derives the AES-256 key for a thread. Deterministic:
// the same thread id always yields the same key for the lifetime of the
// master secret.
func (d *Deriver) DeriveThreadKey(threadID uuid.UUID) []byte {
	info := []byte(fmt.Sprintf("cloakpost.thread.%s", threadID))
	r := hkdf.New(sha256.New, d.master, nil, info)
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only errors past its output limit; 32 bytes is nowhere near it.
		panic(err)
	}
	return key
}

// MessageAAD builds the associated data binding a ciphertext to its sender
// and thread, so a valid blob cannot be replayed into another context.
func MessageAAD(senderID, threadID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("sender:%s|thread:%s", senderID, threadID))
}
