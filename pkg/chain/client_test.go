package chain

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory stand-in for ethclient.Client
type fakeBackend struct {
	mu sync.Mutex

	callResult []byte
	lastCall   ethereum.CallMsg

	sent []*types.Transaction

	receipts      []*types.Receipt
	receiptErrors []error
	receiptCalls  int
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCall = msg
	return f.callResult, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	i := f.receiptCalls
	f.receiptCalls++
	if i >= len(f.receipts) {
		i = len(f.receipts) - 1
	}
	return f.receipts[i], f.receiptErrors[i]
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return tx, len(f.receipts) == 0, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) Close() {}

func newTestClient(t *testing.T, b *fakeBackend, sign SignFunc) *Client {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c, err := newClient(b, Options{
		ChainID:         5042002,
		PrivateKey:      common.Bytes2Hex(crypto.FromECDSA(key)),
		ConfirmInterval: time.Millisecond,
		Sign:            sign,
	})
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), c.Account())

	return c
}

func TestBalanceOf(t *testing.T) {
	b := &fakeBackend{
		callResult: common.LeftPadBytes(big.NewInt(42_000000).Bytes(), 32),
	}
	c := newTestClient(t, b, nil)

	token := common.HexToAddress("0x22C00BcaaaEa1548e5397846e0Cf83B75B38e757")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	balance, err := BalanceOf(context.Background(), c, token, owner)
	require.NoError(t, err)
	require.Equal(t, "42000000", balance.String())

	require.Equal(t, token, *b.lastCall.To)
	expected, err := ERC20ABI.Pack("balanceOf", owner)
	require.NoError(t, err)
	require.Equal(t, expected, b.lastCall.Data)
}

func TestAllowance(t *testing.T) {
	b := &fakeBackend{
		callResult: common.LeftPadBytes(big.NewInt(5).Bytes(), 32),
	}
	c := newTestClient(t, b, nil)

	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x0227Beb66D711fB8dB20A42f9fad2062a6Af84a3")

	allowance, err := Allowance(context.Background(), c, common.Address{1}, owner, spender)
	require.NoError(t, err)
	require.Equal(t, int64(5), allowance.Int64())

	expected, err := ERC20ABI.Pack("allowance", owner, spender)
	require.NoError(t, err)
	require.Equal(t, expected, b.lastCall.Data)
}

func TestSwapTransaction(t *testing.T) {
	b := &fakeBackend{}
	var prompted SignRequest
	c := newTestClient(t, b, func(req SignRequest) bool {
		prompted = req
		return true
	})

	contract := common.HexToAddress("0x0227Beb66D711fB8dB20A42f9fad2062a6Af84a3")
	tokenIn := common.HexToAddress("0x22C00BcaaaEa1548e5397846e0Cf83B75B38e757")
	tokenOut := common.HexToAddress("0x40E6eF9881aBFC07099d0D2def1EF43CdAE967A6")

	hash, err := Swap(context.Background(), c, contract, tokenIn, tokenOut, big.NewInt(100_000000), big.NewInt(97_000000))
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	require.Equal(t, "swap", prompted.Method)

	tx := b.sent[0]
	require.Equal(t, hash, tx.Hash())
	require.Equal(t, contract, *tx.To())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(60000), tx.Gas())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(5042002)), tx)
	require.NoError(t, err)
	require.Equal(t, c.Account(), sender)

	args, err := SwapABI.Methods["swap"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, tokenIn, args[0])
	require.Equal(t, tokenOut, args[1])
	require.Equal(t, "100000000", args[2].(*big.Int).String())
	require.Equal(t, "97000000", args[3].(*big.Int).String())
}

func TestApproveRejectedBySigner(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, func(SignRequest) bool { return false })

	_, err := Approve(context.Background(), c, common.Address{1}, common.Address{2}, MaxAllowance())
	require.ErrorIs(t, err, ErrRejected)
	require.Empty(t, b.sent)
}

func TestTransactWithoutKey(t *testing.T) {
	c, err := newClient(&fakeBackend{}, Options{ChainID: 1})
	require.NoError(t, err)
	require.False(t, c.HasSigner())

	_, err = Approve(context.Background(), c, common.Address{1}, common.Address{2}, big.NewInt(1))
	require.ErrorIs(t, err, ErrNoSigner)
}

func TestWaitConfirmed(t *testing.T) {
	b := &fakeBackend{
		receipts: []*types.Receipt{
			nil,
			nil,
			{Status: types.ReceiptStatusSuccessful},
		},
		receiptErrors: []error{ethereum.NotFound, ethereum.NotFound, nil},
	}
	c := newTestClient(t, b, nil)

	err := c.WaitConfirmed(context.Background(), common.Hash{1})
	require.NoError(t, err)
	require.Equal(t, 3, b.receiptCalls)
}

func TestWaitConfirmedReverted(t *testing.T) {
	b := &fakeBackend{
		receipts:      []*types.Receipt{{Status: types.ReceiptStatusFailed}},
		receiptErrors: []error{nil},
	}
	c := newTestClient(t, b, nil)

	err := c.WaitConfirmed(context.Background(), common.Hash{1})
	require.ErrorIs(t, err, ErrReverted)
}

func TestWaitConfirmedContextCancelled(t *testing.T) {
	b := &fakeBackend{
		receipts:      []*types.Receipt{nil},
		receiptErrors: []error{ethereum.NotFound},
	}
	c := newTestClient(t, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.WaitConfirmed(ctx, common.Hash{1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMaxAllowanceIsCopy(t *testing.T) {
	a := MaxAllowance()
	a.SetInt64(0)
	require.Equal(t, 256, MaxAllowance().BitLen())
}

func TestGetTransactionInfo(t *testing.T) {
	b := &fakeBackend{}
	c := newTestClient(t, b, nil)

	contract := common.HexToAddress("0x0227Beb66D711fB8dB20A42f9fad2062a6Af84a3")
	hash, err := Approve(context.Background(), c, contract, contract, big.NewInt(1))
	require.NoError(t, err)

	info, err := c.GetTransactionInfo(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, info.Pending)
	require.False(t, info.Mined)
	require.EqualValues(t, 7, info.Nonce)
	require.Equal(t, contract.Hex(), info.To)

	b.mu.Lock()
	b.receipts = []*types.Receipt{{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12), GasUsed: 46000}}
	b.receiptErrors = []error{nil}
	b.mu.Unlock()

	info, err = c.GetTransactionInfo(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, info.Mined)
	require.True(t, info.Succeeded)
	require.EqualValues(t, 12, info.BlockNumber)
	require.EqualValues(t, 46000, info.GasUsed)

	_, err = c.GetTransactionInfo(context.Background(), common.HexToHash("0xdead"))
	require.ErrorIs(t, err, ethereum.NotFound)
}
