package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrRejected is returned when the signer declines to sign a transaction
	ErrRejected = errors.New("transaction rejected by signer")

	// ErrReverted is returned when a mined transaction has a failed status
	ErrReverted = errors.New("transaction reverted")

	// ErrNoSigner is returned by Transact on a read-only client
	ErrNoSigner = errors.New("no signing key configured")
)

const (
	defaultGasLimit        = uint64(200000)
	defaultConfirmInterval = time.Second
)

// Caller reads contract view functions
type Caller interface {
	Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// Transactor submits state-changing contract calls and waits for their confirmation
type Transactor interface {
	Transact(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (common.Hash, error)
	WaitConfirmed(ctx context.Context, hash common.Hash) error
}

// SignRequest describes a contract call awaiting the signer's consent
type SignRequest struct {
	To     common.Address
	Method string
	Args   []interface{}
}

// SignFunc asks the wallet owner whether req may be signed
type SignFunc func(req SignRequest) bool

// backend is the subset of ethclient.Client the client depends on
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	Close()
}

// Options configures a Client
type Options struct {
	RPCURL          string
	ChainID         int64
	PrivateKey      string
	GasLimit        *uint64
	GasPrice        *big.Int
	ConfirmInterval time.Duration
	Sign            SignFunc
}

// Client talks to an EVM JSON-RPC endpoint and signs with a local key
type Client struct {
	client          backend
	chainID         *big.Int
	privateKey      *ecdsa.PrivateKey
	account         common.Address
	gasLimit        *uint64
	gasPrice        *big.Int
	confirmInterval time.Duration
	sign            SignFunc
}

// NewClient dials the RPC endpoint and loads the signing key, if any
func NewClient(opts Options) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}

	rpc, err := ethclient.Dial(opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	c, err := newClient(rpc, opts)
	if err != nil {
		rpc.Close()
		return nil, err
	}

	return c, nil
}

func newClient(b backend, opts Options) (*Client, error) {
	c := &Client{
		client:          b,
		chainID:         big.NewInt(opts.ChainID),
		gasLimit:        opts.GasLimit,
		gasPrice:        opts.GasPrice,
		confirmInterval: opts.ConfirmInterval,
		sign:            opts.Sign,
	}
	if c.confirmInterval <= 0 {
		c.confirmInterval = defaultConfirmInterval
	}

	if opts.PrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = privateKey
		c.account = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	return c, nil
}

// HasSigner reports whether the client holds a signing key
func (c *Client) HasSigner() bool {
	return c.privateKey != nil
}

// Account returns the address derived from the signing key
func (c *Client) Account() common.Address {
	return c.account
}

// Call executes a view function and returns its decoded outputs
func (c *Client) Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	msg := ethereum.CallMsg{
		From: c.account,
		To:   &to,
		Data: data,
	}

	result, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}

	return out, nil
}

// Transact signs and broadcasts a contract call, returning its hash once the
// node has accepted it.
func (c *Client) Transact(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	if c.privateKey == nil {
		return common.Hash{}, ErrNoSigner
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	if c.sign != nil && !c.sign(SignRequest{To: to, Method: method, Args: args}) {
		return common.Hash{}, ErrRejected
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.getGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := defaultGasLimit
	if c.gasLimit != nil {
		gasLimit = *c.gasLimit
	} else {
		msg := ethereum.CallMsg{
			From: c.account,
			To:   &to,
			Data: data,
		}
		estimatedGas, err := c.client.EstimateGas(ctx, msg)
		if err == nil {
			gasLimit = estimatedGas * 120 / 100 // Add 20% buffer
		}
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

// WaitConfirmed polls for the receipt of hash until it is mined or ctx ends.
// A mined transaction with a failed status yields ErrReverted.
func (c *Client) WaitConfirmed(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(c.confirmInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			return nil

		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("failed to get transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// getGasPrice returns the gas price to use for transactions
func (c *Client) getGasPrice(ctx context.Context) (*big.Int, error) {
	if c.gasPrice != nil {
		return new(big.Int).Set(c.gasPrice), nil
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	return gasPrice, nil
}

// Close closes the client connection
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
