package signer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stellar/go/keypair"
)

func TestNewLocalSigner(t *testing.T) {
	kp := keypair.MustRandom()
	s, err := NewLocalSigner(kp.Seed())
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	if s.Address() != kp.Address() {
		t.Fatalf("address mismatch: %s != %s", s.Address(), kp.Address())
	}

	if _, err := NewLocalSigner(""); err == nil {
		t.Fatal("expected error for empty seed")
	}
	if _, err := NewLocalSigner("not-a-seed"); err == nil {
		t.Fatal("expected error for malformed seed")
	}
}

func TestNewLocalSignerFromEnv(t *testing.T) {
	kp := keypair.MustRandom()

	t.Run("unset means deferred signing", func(t *testing.T) {
		t.Setenv(EnvSecretKey, "")
		t.Setenv(EnvSecretKeyFile, "")
		s, err := NewLocalSignerFromEnv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s != nil {
			t.Fatal("expected nil signer when no key material configured")
		}
	})

	t.Run("inline seed", func(t *testing.T) {
		t.Setenv(EnvSecretKey, kp.Seed())
		s, err := NewLocalSignerFromEnv()
		if err != nil || s == nil {
			t.Fatalf("expected signer, got %v %v", s, err)
		}
		if s.Address() != kp.Address() {
			t.Fatalf("address mismatch")
		}
	})

	t.Run("seed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seed")
		if err := os.WriteFile(path, []byte(kp.Seed()+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvSecretKey, "")
		t.Setenv(EnvSecretKeyFile, path)
		s, err := NewLocalSignerFromEnv()
		if err != nil || s == nil {
			t.Fatalf("expected signer, got %v %v", s, err)
		}
		if s.Address() != kp.Address() {
			t.Fatalf("address mismatch")
		}
	})
}
