package execution

import (
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

func testContractID(t *testing.T, fill byte) string {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	encoded, err := strkey.Encode(strkey.VersionByteContract, raw)
	if err != nil {
		t.Fatalf("encode contract id: %v", err)
	}
	return encoded
}

func TestAddressValAccountAndContract(t *testing.T) {
	account := keypair.MustRandom().Address()
	val, err := AddressVal(account)
	if err != nil {
		t.Fatalf("AddressVal(account) failed: %v", err)
	}
	if val.Type != xdr.ScValTypeScvAddress || val.Address.Type != xdr.ScAddressTypeScAddressTypeAccount {
		t.Fatalf("unexpected account scval %+v", val)
	}

	contract := testContractID(t, 0x01)
	val, err = AddressVal(contract)
	if err != nil {
		t.Fatalf("AddressVal(contract) failed: %v", err)
	}
	if val.Address.Type != xdr.ScAddressTypeScAddressTypeContract {
		t.Fatalf("unexpected contract scval %+v", val)
	}

	if _, err := AddressVal("garbage"); err == nil {
		t.Fatal("expected error for malformed address")
	}
}

func TestI128ValRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 10_000_000, -1, -10_000_000, 1<<62 + 7} {
		val := I128Val(v)
		got, ok := I128ToInt64(&val)
		if !ok || got != v {
			t.Fatalf("i128 round trip %d -> %d (ok=%v)", v, got, ok)
		}
	}
}

func TestI128ValSignExtension(t *testing.T) {
	pos := I128Val(5)
	if int64(pos.I128.Hi) != 0 {
		t.Fatalf("positive hi must be zero, got %d", pos.I128.Hi)
	}
	neg := I128Val(-5)
	if int64(neg.I128.Hi) != -1 {
		t.Fatalf("negative hi must be -1, got %d", neg.I128.Hi)
	}
}

func TestInvokeContractOp(t *testing.T) {
	contract := testContractID(t, 0x02)
	op, err := InvokeContractOp(contract, "deposit", []xdr.ScVal{I128Val(100)})
	if err != nil {
		t.Fatalf("InvokeContractOp failed: %v", err)
	}
	if op.HostFunction.Type != xdr.HostFunctionTypeHostFunctionTypeInvokeContract {
		t.Fatalf("unexpected host function type %v", op.HostFunction.Type)
	}
	if string(op.HostFunction.InvokeContract.FunctionName) != "deposit" {
		t.Fatalf("unexpected function name %s", op.HostFunction.InvokeContract.FunctionName)
	}
	if len(op.HostFunction.InvokeContract.Args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(op.HostFunction.InvokeContract.Args))
	}

	if _, err := InvokeContractOp("not-a-contract", "deposit", nil); err == nil {
		t.Fatal("expected error for invalid contract id")
	}
}

func TestVecAndScalarVals(t *testing.T) {
	v := VecVal(SymbolVal("a"), U32Val(2), BoolVal(true))
	if v.Type != xdr.ScValTypeScvVec || len(**v.Vec) != 3 {
		t.Fatalf("unexpected vec %+v", v)
	}
}
