package signer

import (
	"fmt"
	"os"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

const (
	EnvSecretKey     = "VERBEX_SECRET_KEY"
	EnvSecretKeyFile = "VERBEX_SECRET_KEY_FILE"
)

// LocalSigner signs with an ed25519 secret seed held in process memory.
type LocalSigner struct {
	kp *keypair.Full
}

func (s *LocalSigner) Address() string {
	if s == nil || s.kp == nil {
		return ""
	}
	return s.kp.Address()
}

func (s *LocalSigner) Sign(networkPassphrase string, tx *txnbuild.Transaction) (*txnbuild.Transaction, error) {
	if s == nil || s.kp == nil {
		return nil, fmt.Errorf("local signer is not initialized")
	}
	return tx.Sign(networkPassphrase, s.kp)
}

// NewLocalSigner parses an S... secret seed.
func NewLocalSigner(seed string) (*LocalSigner, error) {
	clean := strings.TrimSpace(seed)
	if clean == "" {
		return nil, fmt.Errorf("empty secret key")
	}
	kp, err := keypair.ParseFull(clean)
	if err != nil {
		return nil, fmt.Errorf("parse secret key: %w", err)
	}
	return &LocalSigner{kp: kp}, nil
}

// NewLocalSignerFromEnv resolves a signer from the environment, preferring
// an inline seed over a seed file. Returns (nil, nil) when no key material
// is configured: that is the deferred-signing case, not an error.
func NewLocalSignerFromEnv() (*LocalSigner, error) {
	if seed := strings.TrimSpace(os.Getenv(EnvSecretKey)); seed != "" {
		return NewLocalSigner(seed)
	}
	if path := strings.TrimSpace(os.Getenv(EnvSecretKeyFile)); path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read secret key file: %w", err)
		}
		return NewLocalSigner(string(buf))
	}
	return nil, nil
}
