package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t)
	aad := MessageAAD(uuid.New(), uuid.New())

	cases := []string{
		"hello",
		"héllo wörld ünïcode ✓ 你好 🙂",
		strings.Repeat("a", 5000),
		"x",
	}
	for _, pt := range cases {
		blob, err := Encrypt(pt, key, aad)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Decrypt(blob, key, aad)
		if err != nil {
			t.Fatal(err)
		}
		if got != pt {
			t.Fatalf("round trip mismatch for %q", pt)
		}
	}
}

func TestFreshNonces(t *testing.T) {
	key := testKey(t)
	aad := MessageAAD(uuid.New(), uuid.New())

	b1, _ := Encrypt("same", key, aad)
	b2, _ := Encrypt("same", key, aad)
	if b1 == b2 {
		t.Fatal("ciphertexts should differ for same plaintext")
	}
}

func TestTamperDetection(t *testing.T) {
	key := testKey(t)
	aad := MessageAAD(uuid.New(), uuid.New())

	blob, err := Encrypt("sensitive", key, aad)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)

	// Flip one bit in every byte position; each must fail authentication.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01

		_, err := Decrypt(base64.StdEncoding.EncodeToString(mutated), key, aad)
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("bit flip at byte %d: expected ErrAuthentication, got %v", i, err)
		}
	}
}

func TestAADBinding(t *testing.T) {
	key := testKey(t)
	sender, thread := uuid.New(), uuid.New()

	blob, err := Encrypt("bound", key, MessageAAD(sender, thread))
	if err != nil {
		t.Fatal(err)
	}

	// Same key, different sender context: must not open.
	_, err = Decrypt(blob, key, MessageAAD(uuid.New(), thread))
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication under different AAD, got %v", err)
	}

	// Original context still opens.
	if _, err := Decrypt(blob, key, MessageAAD(sender, thread)); err != nil {
		t.Fatal(err)
	}
}

func TestWrongKeyFails(t *testing.T) {
	aad := MessageAAD(uuid.New(), uuid.New())
	blob, err := Encrypt("secret", testKey(t), aad)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(blob, testKey(t), aad); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestShortBlobFormat(t *testing.T) {
	key := testKey(t)

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := Decrypt(short, key, nil); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for short blob, got %v", err)
	}

	if _, err := Decrypt("not base64!!!", key, nil); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for invalid base64, got %v", err)
	}
}
