package approval

import (
	"math/big"

	"stablefx/pkg/quote"
)

// NeedsApproval reports whether an approve transaction must precede a swap of
// amountText. It returns false while the amount is missing or unparseable, or
// while the allowance is still unknown (nil).
func NeedsApproval(amountText string, decimals uint8, allowance *big.Int) bool {
	if allowance == nil {
		return false
	}

	amount, err := quote.ToUnits(amountText, decimals)
	if err != nil {
		return false
	}

	return allowance.Cmp(amount) < 0
}
