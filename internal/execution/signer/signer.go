package signer

import (
	"github.com/stellar/go/txnbuild"
)

// Signer produces a signed transaction for the account it controls. A nil
// Signer in the pipeline means deferred signing: the unsigned envelope goes
// back to the caller for an external wallet to sign.
type Signer interface {
	Address() string
	Sign(networkPassphrase string, tx *txnbuild.Transaction) (*txnbuild.Transaction, error)
}
