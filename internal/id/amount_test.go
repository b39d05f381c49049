package id

import (
	"testing"
)

func TestToStroops(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "100", want: 1_000_000_000},
		{in: "1.5", want: 15_000_000},
		{in: "0.0000001", want: 1},
		{in: "0", want: 0},
		{in: "123.4567891", wantErr: true}, // 8 decimal places
		{in: "-1", wantErr: true},
		{in: "1e5", wantErr: true},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ToStroops(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ToStroops(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ToStroops(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ToStroops(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRoundTripIdentity(t *testing.T) {
	// For all non-negative amounts representable exactly in 7 decimal
	// digits, FromStroops(ToStroops(a)) must equal a.
	for _, in := range []string{"0", "1", "100", "1.5", "0.0000001", "42.75", "9999999.9999999"} {
		stroops, err := ToStroops(in)
		if err != nil {
			t.Fatalf("ToStroops(%q) failed: %v", in, err)
		}
		if out := FromStroops(stroops); out != in {
			t.Fatalf("round trip %q -> %d -> %q", in, stroops, out)
		}
	}
}

func TestNormalizeAmount(t *testing.T) {
	stroops, dec, err := NormalizeAmount(0, "2.5")
	if err != nil || stroops != 25_000_000 || dec != "2.5" {
		t.Fatalf("NormalizeAmount decimal: %d %q %v", stroops, dec, err)
	}

	stroops, dec, err = NormalizeAmount(15_000_000, "")
	if err != nil || stroops != 15_000_000 || dec != "1.5" {
		t.Fatalf("NormalizeAmount stroops: %d %q %v", stroops, dec, err)
	}

	if _, _, err := NormalizeAmount(1, "1"); err == nil {
		t.Fatal("expected error when both forms supplied")
	}
	if _, _, err := NormalizeAmount(0, ""); err == nil {
		t.Fatal("expected error when neither form supplied")
	}
	if _, _, err := NormalizeAmount(-5, ""); err == nil {
		t.Fatal("expected error for negative stroops")
	}
}
