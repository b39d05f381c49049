package registry

import (
	"fmt"
	"strings"

	"github.com/stellar/go/strkey"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
)

// Asset is a resolved asset symbol bound to a Soroban token contract.
type Asset struct {
	Symbol     string
	ContractID string
	Decimals   int
	Issuer     string
}

// Stellar Asset Contract ids for the supported symbols, keyed by network.
// All SACs use the 7-decimal stroop convention.
var assetsByNetwork = map[string]map[string]Asset{
	"testnet": {
		"XLM": {
			Symbol:     "XLM",
			ContractID: "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC",
			Decimals:   7,
		},
		"USDC": {
			Symbol:     "USDC",
			ContractID: "CAQCFVLOBK5GIULPNZRGATJJMIZL5BSP7X5YJVMGCPTUEPFM4AVSRCJU",
			Decimals:   7,
			Issuer:     "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5",
		},
	},
	"mainnet": {
		"XLM": {
			Symbol:     "XLM",
			ContractID: "CAS3J7GYLGXMF6TDJBBYYSE3HQ6BBSMLNUQ34T6TZMYMW2EVH34XOWMA",
			Decimals:   7,
		},
		"USDC": {
			Symbol:     "USDC",
			ContractID: "CCW67TSZV3SSS2HXMBQ5JFGCKJNXKZM7UQUWUZPUTHXSTZLEO7SJMI75",
			Decimals:   7,
			Issuer:     "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN",
		},
	},
}

// Protocol contract addresses, keyed by network then role.
var protocolContracts = map[string]map[string]string{
	"testnet": {
		"blend.pool.default": "CCLBPEYS3XFK65MYYXSBMOGKUI4ODN5S7SUZBGD7NALUQF64QILLX5B5",
		"blend.backstop":     "CC4TSDVQKBAYMK4BEDM65CSNB3ISI2A54OOBRO6IPSTFZJY3IBJBS7FX",
		"soroswap.router":    "CAG5LRYQ5JVEUI5TEID72EYOVX44TTUJT5BQR2J6J77FH65PCCFAJDDH",
		"soroswap.factory":   "CDP3HMJVN5UL6CCPLU4W5ZCVZZ6K5ANAIB5VHSVXFT3EKFGUVTLXU2GO",
		"defindex.factory":   "CBKHWV5X2FEXYZP6ZRCN3PSPUYFRHTTTBNVBRCHPKJSMRLBTQFF2R3PX",
	},
	"mainnet": {
		"blend.pool.default": "CDVQVKOY2YSXS2IC7KN6MLLXJHQLLOAJVMXJDJGNKOZKJRYSKJNJLEPZ",
		"blend.backstop":     "CAO3AGAMZVRMHITL36EJ2VZQWKYRPWMQAPDQD5YEOF3GIF7T44QCXWGN",
		"soroswap.router":    "CAG5LRYQ5JVEUI5TEID72EYOVX44TTUJT5BQR2J6J77FH65PCCFAJDDH",
		"soroswap.factory":   "CDP3HMJVN5UL6CCPLU4W5ZCVZZ6K5ANAIB5VHSVXFT3EKFGUVTLXU2GO",
		"defindex.factory":   "CBKHWV5X2FEXYZP6ZRCN3PSPUYFRHTTTBNVBRCHPKJSMRLBTQFF2R3PX",
	},
}

// ResolveAsset maps a user-facing symbol to its on-chain token contract.
func ResolveAsset(symbol, networkName string) (Asset, error) {
	net, err := ResolveNetwork(networkName)
	if err != nil {
		return Asset{}, err
	}
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return Asset{}, clierr.New(clierr.CodeUsage, "asset symbol is required")
	}
	asset, ok := assetsByNetwork[net.Name][key]
	if !ok {
		return Asset{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown asset %q on %s", symbol, net.Name))
	}
	return asset, nil
}

// ResolveAssetOrContract accepts either a known symbol or a raw contract id.
func ResolveAssetOrContract(value, networkName string) (Asset, error) {
	trimmed := strings.TrimSpace(value)
	if strkey.IsValidContractAddress(trimmed) {
		return Asset{Symbol: trimmed, ContractID: trimmed, Decimals: 7}, nil
	}
	return ResolveAsset(trimmed, networkName)
}

// ProtocolContract looks up a protocol deployment address by role, e.g.
// "soroswap.router" or "blend.pool.default".
func ProtocolContract(role, networkName string) (string, error) {
	net, err := ResolveNetwork(networkName)
	if err != nil {
		return "", err
	}
	addr, ok := protocolContracts[net.Name][role]
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no %s deployment on %s", role, net.Name))
	}
	return addr, nil
}

// KnownAssets lists the resolvable symbols for a network, for usage errors
// and the intent-parser prompt.
func KnownAssets(networkName string) []string {
	net, err := ResolveNetwork(networkName)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(assetsByNetwork[net.Name]))
	for sym := range assetsByNetwork[net.Name] {
		out = append(out, sym)
	}
	return out
}
