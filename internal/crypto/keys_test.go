package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"
)

func testDeriver(t *testing.T) *Deriver {
	t.Helper()
	master := make([]byte, keySize)
	if _, err := rand.Read(master); err != nil {
		t.Fatal(err)
	}
	d, err := NewDeriver(master)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDeriveDeterministic(t *testing.T) {
	d := testDeriver(t)
	thread := uuid.New()

	k1 := d.DeriveThreadKey(thread)
	k2 := d.DeriveThreadKey(thread)
	if !bytes.Equal(k1, k2) {
		t.Fatal("same thread must always derive the same key")
	}
	if len(k1) != keySize {
		t.Fatalf("expected %d-byte key, got %d", keySize, len(k1))
	}
}

func TestDeriveDistinctPerThread(t *testing.T) {
	d := testDeriver(t)

	k1 := d.DeriveThreadKey(uuid.New())
	k2 := d.DeriveThreadKey(uuid.New())
	if bytes.Equal(k1, k2) {
		t.Fatal("different threads must derive different keys")
	}
}

func TestDeriverRejectsBadMaster(t *testing.T) {
	if _, err := NewDeriver(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short master secret")
	}
}

func TestDeriverCopiesMaster(t *testing.T) {
	master := make([]byte, keySize)
	if _, err := rand.Read(master); err != nil {
		t.Fatal(err)
	}
	d, err := NewDeriver(master)
	if err != nil {
		t.Fatal(err)
	}
	thread := uuid.New()
	k1 := d.DeriveThreadKey(thread)

	// Caller mutating its copy must not affect derivation.
	for i := range master {
		master[i] = 0
	}
	if !bytes.Equal(k1, d.DeriveThreadKey(thread)) {
		t.Fatal("deriver must hold its own copy of the master secret")
	}
}
