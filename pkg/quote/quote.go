package quote

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DisplayDecimals is the number of fractional digits shown for estimates and fees
	DisplayDecimals = 6

	// SlippageBps is the slippage tolerance in basis points (3%)
	SlippageBps = 300

	bpsDenominator = 10000
)

// FeeRate is the flat fee applied by the display estimate (0.3%)
var FeeRate = decimal.RequireFromString("0.003")

var amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

// ParseAmount parses a user-entered, non-negative decimal string.
// Signs, exponents and surrounding garbage are rejected.
func ParseAmount(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	if !amountPattern.MatchString(text) {
		return decimal.Zero, false
	}
	if strings.HasPrefix(text, ".") {
		text = "0" + text
	}
	text = strings.TrimSuffix(text, ".")

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}

	return d, true
}

// IsPositive reports whether text parses to an amount greater than zero
func IsPositive(text string) bool {
	d, ok := ParseAmount(text)
	return ok && d.IsPositive()
}

// EstimateOutput returns the displayed output for amountText after the flat fee.
// It is a local approximation only; the contract prices the swap itself.
func EstimateOutput(amountText string) string {
	amount, ok := ParseAmount(amountText)
	if !ok {
		return "0"
	}
	return amount.Mul(decimal.NewFromInt(1).Sub(FeeRate)).StringFixed(DisplayDecimals)
}

// EstimateFee returns the displayed fee for amountText, formatted like EstimateOutput
func EstimateFee(amountText string) string {
	amount, ok := ParseAmount(amountText)
	if !ok {
		return "0"
	}
	return amount.Mul(FeeRate).StringFixed(DisplayDecimals)
}

// ToUnits scales a decimal amount string into a token's smallest unit.
// Fractional digits beyond the token's precision are truncated.
func ToUnits(amountText string, decimals uint8) (*big.Int, error) {
	amount, ok := ParseAmount(amountText)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", amountText)
	}
	return amount.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FromUnits formats an integer amount in smallest units as a decimal string
func FromUnits(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -int32(decimals)).String()
}

// MinAmountOut returns floor(amountIn * (1 - slippage)) in the same units as amountIn
func MinAmountOut(amountIn *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountIn, big.NewInt(bpsDenominator-SlippageBps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

var dust = decimal.RequireFromString("0.01")

// FormatBalance renders a balance for display with two decimals
func FormatBalance(units *big.Int, decimals uint8) string {
	if units == nil || units.Sign() == 0 {
		return "0.00"
	}

	d := decimal.NewFromBigInt(units, -int32(decimals))
	if d.LessThan(dust) {
		return "<0.01"
	}

	return d.StringFixed(2)
}
