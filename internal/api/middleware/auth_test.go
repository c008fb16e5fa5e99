package middleware

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Tausifislam01/CloakPost/internal/models"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

type signedIdentity struct {
	user *models.User
	priv ed25519.PrivateKey
}

func newAuthFixture(t *testing.T) (*AuthMiddleware, *signedIdentity) {
	t.Helper()
	db, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	user, err := db.CreateUser(context.Background(), base64.StdEncoding.EncodeToString(pub), "alice")
	if err != nil {
		t.Fatal(err)
	}

	return NewAuthMiddleware(db, nil), &signedIdentity{user: user, priv: priv}
}

func testNonce() string {
	buf := make([]byte, 18)
	rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

func newSignedRequest(id *signedIdentity, body []byte, ts int64, nonce string) *http.Request {
	req := httptest.NewRequest("POST", "/threads", bytes.NewReader(body))

	hash := sha256.Sum256(body)
	payload := fmt.Sprintf("%s|%s|%d", hex.EncodeToString(hash[:]), nonce, ts)
	sig := ed25519.Sign(id.priv, []byte(payload))

	req.Header.Set(HeaderUser, id.user.ID.String())
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	return req
}

func TestAuthenticateValidSignature(t *testing.T) {
	auth, id := newAuthFixture(t)

	body := []byte(`{"body":"hello"}`)
	req := newSignedRequest(id, body, time.Now().UnixMilli(), testNonce())

	user, err := auth.Authenticate(req)
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != id.user.ID {
		t.Fatalf("authenticated as %s, want %s", user.ID, id.user.ID)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	auth, id := newAuthFixture(t)
	body := []byte(`{}`)

	t.Run("missing headers", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/threads", bytes.NewReader(body))
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		req := newSignedRequest(id, body, time.Now().Add(-time.Minute).UnixMilli(), testNonce())
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("future timestamp", func(t *testing.T) {
		req := newSignedRequest(id, body, time.Now().Add(time.Minute).UnixMilli(), testNonce())
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("short nonce", func(t *testing.T) {
		req := newSignedRequest(id, body, time.Now().UnixMilli(), "tooshort")
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		req := newSignedRequest(id, body, time.Now().UnixMilli(), testNonce())
		req.Body = io.NopCloser(bytes.NewReader([]byte(`{"body":"evil"}`)))
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		impostor := &signedIdentity{user: id.user, priv: otherPriv}
		req := newSignedRequest(impostor, body, time.Now().UnixMilli(), testNonce())
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		req := newSignedRequest(id, body, time.Now().UnixMilli(), testNonce())
		req.Header.Set(HeaderUser, "1b4e28ba-2fa1-11d2-883f-0016d3cca427")
		if _, err := auth.Authenticate(req); err == nil {
			t.Fatal("expected rejection")
		}
	})
}

func TestAuthenticateRestoresBody(t *testing.T) {
	auth, id := newAuthFixture(t)
	body := []byte(`{"body":"payload"}`)

	req := newSignedRequest(id, body, time.Now().UnixMilli(), testNonce())
	if _, err := auth.Authenticate(req); err != nil {
		t.Fatal(err)
	}

	restored, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(body) {
		t.Fatalf("body not restored for the handler: %q", restored)
	}
}
