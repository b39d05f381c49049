package registry

import (
	"strings"

	"github.com/stellar/go/network"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
)

// Network bundles the endpoints and passphrase for one Stellar network.
type Network struct {
	Name       string
	Passphrase string
	SorobanRPC string
	HorizonURL string
}

var networksByName = map[string]Network{
	"testnet": {
		Name:       "testnet",
		Passphrase: network.TestNetworkPassphrase,
		SorobanRPC: "https://soroban-testnet.stellar.org",
		HorizonURL: "https://horizon-testnet.stellar.org",
	},
	"mainnet": {
		Name:       "mainnet",
		Passphrase: network.PublicNetworkPassphrase,
		SorobanRPC: "https://mainnet.sorobanrpc.com",
		HorizonURL: "https://horizon.stellar.org",
	},
}

func ResolveNetwork(name string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "testnet"
	}
	net, ok := networksByName[key]
	if !ok {
		return Network{}, clierr.New(clierr.CodeUsage, "unknown network "+name+" (expected testnet|mainnet)")
	}
	return net, nil
}
