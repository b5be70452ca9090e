package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxInfo summarizes a transaction and, once mined, its receipt
type TxInfo struct {
	Hash        string `json:"hash"`
	Nonce       uint64 `json:"nonce"`
	GasPrice    string `json:"gas_price"`
	GasLimit    uint64 `json:"gas_limit"`
	To          string `json:"to"`
	Pending     bool   `json:"pending"`
	Mined       bool   `json:"mined"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	Succeeded   bool   `json:"succeeded"`
}

// GetTransactionInfo retrieves information about a transaction
func (c *Client) GetTransactionInfo(ctx context.Context, hash common.Hash) (*TxInfo, error) {
	tx, isPending, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	info := &TxInfo{
		Hash:     tx.Hash().Hex(),
		Nonce:    tx.Nonce(),
		GasPrice: tx.GasPrice().String(),
		GasLimit: tx.Gas(),
		Pending:  isPending,
	}
	if tx.To() != nil {
		info.To = tx.To().Hex()
	}

	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if isPending || errors.Is(err, ethereum.NotFound) {
			return info, nil
		}
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	info.Mined = true
	info.BlockNumber = receipt.BlockNumber.Uint64()
	info.GasUsed = receipt.GasUsed
	info.Succeeded = receipt.Status == types.ReceiptStatusSuccessful

	return info, nil
}
