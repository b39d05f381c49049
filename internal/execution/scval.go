package execution

import (
	"fmt"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
)

// ContractAddress decodes a C... strkey into an ScAddress.
func ContractAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid contract address %q", contractID), err)
	}
	var cid xdr.ContractId
	copy(cid[:], raw)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &cid}, nil
}

// AccountAddress converts a G... strkey into an ScAddress.
func AccountAddress(accountID string) (xdr.ScAddress, error) {
	aid, err := xdr.AddressToAccountId(accountID)
	if err != nil {
		return xdr.ScAddress{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid account address %q", accountID), err)
	}
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &aid}, nil
}

// AddressVal builds an address ScVal from either an account or a contract
// strkey.
func AddressVal(address string) (xdr.ScVal, error) {
	var (
		addr xdr.ScAddress
		err  error
	)
	if strkey.IsValidContractAddress(address) {
		addr, err = ContractAddress(address)
	} else {
		addr, err = AccountAddress(address)
	}
	if err != nil {
		return xdr.ScVal{}, err
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
}

// I128Val encodes a signed 64-bit stroop amount as an i128 ScVal with
// correct sign extension.
func I128Val(v int64) xdr.ScVal {
	parts := xdr.Int128Parts{
		Hi: xdr.Int64(v >> 63),
		Lo: xdr.Uint64(v),
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}

func U32Val(v uint32) xdr.ScVal {
	u := xdr.Uint32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

func U64Val(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

func SymbolVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func BoolVal(b bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &b}
}

func VecVal(vals ...xdr.ScVal) xdr.ScVal {
	vec := xdr.ScVec(vals)
	ptr := &vec
	return xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &ptr}
}

// MapEntry pairs a symbol key with a value for contract-struct encoding.
func MapEntry(key string, val xdr.ScVal) xdr.ScMapEntry {
	return xdr.ScMapEntry{Key: SymbolVal(key), Val: val}
}

// MapVal builds a map ScVal. Contract structs require entries sorted by
// key; callers pass them in symbol order.
func MapVal(entries ...xdr.ScMapEntry) xdr.ScVal {
	m := xdr.ScMap(entries)
	ptr := &m
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &ptr}
}

// InvokeContractOp builds the single InvokeHostFunction operation a write
// pipeline run carries.
func InvokeContractOp(contractID, function string, args []xdr.ScVal) (*txnbuild.InvokeHostFunction, error) {
	addr, err := ContractAddress(contractID)
	if err != nil {
		return nil, err
	}
	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: addr,
				FunctionName:    xdr.ScSymbol(function),
				Args:            args,
			},
		},
	}, nil
}

// MapGet looks up a symbol key in a map ScVal.
func MapGet(v *xdr.ScVal, key string) (*xdr.ScVal, bool) {
	if v == nil || v.Type != xdr.ScValTypeScvMap || v.Map == nil || *v.Map == nil {
		return nil, false
	}
	for i := range **v.Map {
		entry := &(**v.Map)[i]
		if entry.Key.Type == xdr.ScValTypeScvSymbol && entry.Key.Sym != nil && string(*entry.Key.Sym) == key {
			return &entry.Val, true
		}
	}
	return nil, false
}

// MapEntries returns the raw entries of a map ScVal.
func MapEntries(v *xdr.ScVal) []xdr.ScMapEntry {
	if v == nil || v.Type != xdr.ScValTypeScvMap || v.Map == nil || *v.Map == nil {
		return nil
	}
	return **v.Map
}

// U32FromVal narrows a u32 ScVal.
func U32FromVal(v *xdr.ScVal) (uint32, bool) {
	if v == nil || v.Type != xdr.ScValTypeScvU32 || v.U32 == nil {
		return 0, false
	}
	return uint32(*v.U32), true
}

// I128ToInt64 narrows an i128 ScVal return value back to int64 stroops.
func I128ToInt64(v *xdr.ScVal) (int64, bool) {
	if v == nil || v.Type != xdr.ScValTypeScvI128 || v.I128 == nil {
		return 0, false
	}
	hi := int64(v.I128.Hi)
	lo := uint64(v.I128.Lo)
	if hi != lo2hi(int64(lo)) {
		return 0, false
	}
	return int64(lo), true
}

func lo2hi(lo int64) int64 {
	return lo >> 63
}
