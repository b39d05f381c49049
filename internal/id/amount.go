package id

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stellar/go/amount"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
)

// StroopsPerUnit is Stellar's fixed scaling: every supported token uses the
// 7-decimal convention of the Stellar Asset Contract.
const StroopsPerUnit = 10_000_000

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ToStroops converts a human-readable decimal amount into integer stroops.
// The conversion is exact: inputs with more than 7 decimal places are
// rejected rather than rounded.
func ToStroops(decimal string) (int64, error) {
	clean := strings.TrimSpace(decimal)
	if clean == "" {
		return 0, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if !decimalPattern.MatchString(clean) {
		return 0, clierr.New(clierr.CodeUsage, "amount must be in decimal form like 1.23")
	}
	v, err := amount.ParseInt64(clean)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid amount %q", decimal), err)
	}
	return v, nil
}

// FromStroops renders integer stroops back into the shortest exact decimal
// representation, so FromStroops(ToStroops(a)) == a for any amount exact in
// 7 decimal digits.
func FromStroops(stroops int64) string {
	return normalizeDecimal(amount.StringFromInt64(stroops))
}

// NormalizeAmount validates an amount expressed either directly in stroops
// or as a decimal string, returning both forms. Exactly one of the two
// inputs must be set.
func NormalizeAmount(stroops int64, decimal string) (int64, string, error) {
	hasDecimal := strings.TrimSpace(decimal) != ""
	if stroops > 0 && hasDecimal {
		return 0, "", clierr.New(clierr.CodeUsage, "use either --amount-stroops or --amount, not both")
	}
	if stroops < 0 {
		return 0, "", clierr.New(clierr.CodeUsage, "amount must be non-negative")
	}
	if stroops > 0 {
		return stroops, FromStroops(stroops), nil
	}
	if !hasDecimal {
		return 0, "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	v, err := ToStroops(decimal)
	if err != nil {
		return 0, "", err
	}
	return v, normalizeDecimal(decimal), nil
}

func normalizeDecimal(v string) string {
	if !strings.Contains(v, ".") {
		out := strings.TrimLeft(v, "0")
		if out == "" {
			return "0"
		}
		return out
	}
	parts := strings.SplitN(v, ".", 2)
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart := strings.TrimRight(parts[1], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
