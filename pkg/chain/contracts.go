package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// MaxAllowance returns the largest uint256, used for unbounded approvals
func MaxAllowance() *big.Int {
	return new(big.Int).Set(math.MaxBig256)
}

// BalanceOf reads owner's balance of token
func BalanceOf(ctx context.Context, c Caller, token, owner common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return firstUint(out, "balanceOf")
}

// Allowance reads how much spender may move of owner's token
func Allowance(ctx context.Context, c Caller, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return firstUint(out, "allowance")
}

// Approve submits approve(spender, amount) on token
func Approve(ctx context.Context, t Transactor, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return t.Transact(ctx, token, ERC20ABI, "approve", spender, amount)
}

// Swap submits swap(tokenIn, tokenOut, amountIn, minAmountOut) on the swap contract
func Swap(ctx context.Context, t Transactor, contract, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (common.Hash, error) {
	return t.Transact(ctx, contract, SwapABI, "swap", tokenIn, tokenOut, amountIn, minAmountOut)
}

func firstUint(out []interface{}, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, expected uint256", method, out[0])
	}
	return v, nil
}
