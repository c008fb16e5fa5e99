package config

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func validKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, MasterKeySize))
}

func TestDecodeMasterKey(t *testing.T) {
	key, err := DecodeMasterKey(validKey())
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != MasterKeySize {
		t.Fatalf("decoded %d bytes, want %d", len(key), MasterKeySize)
	}

	if _, err := DecodeMasterKey(""); !errors.Is(err, ErrMasterKeyMissing) {
		t.Fatalf("empty key: got %v", err)
	}
	if _, err := DecodeMasterKey("not base64!!"); !errors.Is(err, ErrMasterKeyInvalid) {
		t.Fatalf("bad encoding: got %v", err)
	}
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	if _, err := DecodeMasterKey(short); !errors.Is(err, ErrMasterKeyInvalid) {
		t.Fatalf("short key: got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CRYPTO_MASTER_KEY", validKey())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %s", cfg.Port)
	}
	if cfg.MessageTTL != 5*time.Minute {
		t.Fatalf("ttl = %v", cfg.MessageTTL)
	}
	if cfg.SweepCron != "*/2 * * * *" {
		t.Fatalf("cron = %s", cfg.SweepCron)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("default env should be development")
	}
}

func TestLoadRejectsMisconfiguration(t *testing.T) {
	t.Run("missing master key", func(t *testing.T) {
		t.Setenv("CRYPTO_MASTER_KEY", "")
		if _, err := Load(); !errors.Is(err, ErrMasterKeyMissing) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("bad cron", func(t *testing.T) {
		t.Setenv("CRYPTO_MASTER_KEY", validKey())
		t.Setenv("SWEEP_CRON", "not a cron")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("production without database", func(t *testing.T) {
		t.Setenv("CRYPTO_MASTER_KEY", validKey())
		t.Setenv("ENV", "production")
		t.Setenv("DATABASE_URL", "")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		t.Setenv("CRYPTO_MASTER_KEY", validKey())
		t.Setenv("MESSAGE_TTL_MINUTES", "0")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestTTLOverride(t *testing.T) {
	t.Setenv("CRYPTO_MASTER_KEY", validKey())
	t.Setenv("MESSAGE_TTL_MINUTES", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MessageTTL != 30*time.Minute {
		t.Fatalf("ttl = %v, want 30m", cfg.MessageTTL)
	}
}
