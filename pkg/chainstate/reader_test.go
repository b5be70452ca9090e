package chainstate

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"stablefx/pkg/eventloop"
)

var (
	tokenA   = common.HexToAddress("0x22C00BcaaaEa1548e5397846e0Cf83B75B38e757")
	tokenB   = common.HexToAddress("0x40E6eF9881aBFC07099d0D2def1EF43CdAE967A6")
	owner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender  = common.HexToAddress("0x0227Beb66D711fB8dB20A42f9fad2062a6Af84a3")
	waitFor  = time.Second
	pollTick = time.Millisecond
)

type fakeCaller struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	gates      map[common.Address]chan struct{}
	fail       bool
	calls      map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		gates:      make(map[common.Address]chan struct{}),
		calls:      make(map[string]int),
	}
}

func (f *fakeCaller) Call(ctx context.Context, to common.Address, _ abi.ABI, method string, _ ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	f.calls[method]++
	gate := f.gates[to]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, errors.New("rpc unavailable")
	}

	var v *big.Int
	switch method {
	case "balanceOf":
		v = f.balances[to]
	case "allowance":
		v = f.allowances[to]
	}
	if v == nil {
		v = new(big.Int)
	}
	return []interface{}{new(big.Int).Set(v)}, nil
}

func (f *fakeCaller) set(fn func(f *fakeCaller)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCaller) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

type testReader struct {
	t       *testing.T
	loop    *eventloop.Loop
	reader  *Reader
	caller  *fakeCaller
	tickers []*ticker.Force
	changes int
}

func newTestReader(t *testing.T) *testReader {
	t.Helper()

	tr := &testReader{
		t:      t,
		loop:   eventloop.New(),
		caller: newFakeCaller(),
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	tr.reader = NewReader(Config{
		Loop:    tr.loop,
		Caller:  tr.caller,
		Spender: spender,
		NewTicker: func(d time.Duration) ticker.Ticker {
			f := ticker.NewForce(d)
			tr.tickers = append(tr.tickers, f)
			return f
		},
		OnChange: func() { tr.changes++ },
		Logger:   logger,
	})

	tr.loop.Start()
	tr.reader.Start()
	t.Cleanup(func() {
		tr.reader.Stop()
		tr.loop.Stop()
	})

	return tr
}

func (tr *testReader) do(fn func(r *Reader)) {
	tr.t.Helper()
	require.NoError(tr.t, tr.loop.Do(context.Background(), func() { fn(tr.reader) }))
}

func (tr *testReader) snapshot() Snapshot {
	var s Snapshot
	tr.do(func(r *Reader) { s = r.Snapshot() })
	return s
}

func (tr *testReader) eventually(cond func(s Snapshot) bool, msg string) {
	tr.t.Helper()
	require.Eventually(tr.t, func() bool { return cond(tr.snapshot()) }, waitFor, pollTick, msg)
}

func equals(v *big.Int, n int64) bool {
	return v != nil && v.Cmp(big.NewInt(n)) == 0
}

func TestReaderStartsUnknown(t *testing.T) {
	tr := newTestReader(t)

	s := tr.snapshot()
	require.Nil(t, s.SourceBalance)
	require.Nil(t, s.DestBalance)
	require.Nil(t, s.Allowance)
}

func TestReaderReadsWhenEnabled(t *testing.T) {
	tr := newTestReader(t)
	tr.caller.set(func(f *fakeCaller) {
		f.balances[tokenA] = big.NewInt(10)
		f.balances[tokenB] = big.NewInt(20)
		f.allowances[tokenA] = big.NewInt(30)
	})

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, false)
	})

	tr.eventually(func(s Snapshot) bool {
		return equals(s.SourceBalance, 10) && equals(s.DestBalance, 20)
	}, "balances should be read once enabled")

	require.Nil(t, tr.snapshot().Allowance, "allowance stays unread without an amount")
	require.Zero(t, tr.caller.callCount("allowance"))

	tr.do(func(r *Reader) { r.SetEnabled(true, true) })
	tr.eventually(func(s Snapshot) bool { return equals(s.Allowance, 30) }, "allowance read once amount present")
}

func TestReaderPollTickPicksUpNewValue(t *testing.T) {
	tr := newTestReader(t)
	tr.caller.set(func(f *fakeCaller) { f.balances[tokenA] = big.NewInt(1) })

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, false)
	})
	tr.eventually(func(s Snapshot) bool { return equals(s.SourceBalance, 1) }, "initial read")

	tr.caller.set(func(f *fakeCaller) { f.balances[tokenA] = big.NewInt(2) })
	tr.tickers[0].Force <- time.Now()

	tr.eventually(func(s Snapshot) bool { return equals(s.SourceBalance, 2) }, "tick re-reads")
}

func TestReaderDisabledTickDoesNotRead(t *testing.T) {
	tr := newTestReader(t)

	tr.do(func(r *Reader) { r.Retarget(tokenA, tokenB, owner) })
	tr.tickers[0].Force <- time.Now()
	tr.do(func(*Reader) {})

	require.Zero(t, tr.caller.callCount("balanceOf"))
}

func TestReaderRetargetInvalidatesAndDiscardsLateResult(t *testing.T) {
	tr := newTestReader(t)
	tr.caller.set(func(f *fakeCaller) {
		f.balances[tokenA] = big.NewInt(100)
		f.balances[tokenB] = big.NewInt(200)
	})

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, false)
	})
	tr.eventually(func(s Snapshot) bool {
		return equals(s.SourceBalance, 100) && equals(s.DestBalance, 200)
	}, "initial pair read")

	// Hold the next read of token A so it lands after the switch.
	gate := make(chan struct{})
	tr.caller.set(func(f *fakeCaller) { f.gates[tokenA] = gate })
	tr.do(func(r *Reader) { r.SourceBalance.ForceRefresh() })

	var afterSwitch Snapshot
	tr.do(func(r *Reader) {
		r.Retarget(tokenB, tokenA, owner)
		afterSwitch = r.Snapshot()
	})
	require.Nil(t, afterSwitch.SourceBalance, "old source value must not survive the switch")
	require.Nil(t, afterSwitch.DestBalance, "old dest value must not survive the switch")

	tr.eventually(func(s Snapshot) bool { return equals(s.SourceBalance, 200) }, "new source read")

	// Release the stale token A read issued for the source slot.
	tr.caller.set(func(f *fakeCaller) { delete(f.gates, tokenA) })
	close(gate)

	tr.eventually(func(s Snapshot) bool { return equals(s.DestBalance, 100) }, "new dest read")
	require.True(t, equals(tr.snapshot().SourceBalance, 200), "late token A result was discarded")
}

func TestReaderFailureKeepsLastValue(t *testing.T) {
	tr := newTestReader(t)
	tr.caller.set(func(f *fakeCaller) { f.balances[tokenA] = big.NewInt(5) })

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, false)
	})
	tr.eventually(func(s Snapshot) bool { return equals(s.SourceBalance, 5) }, "initial read")

	tr.caller.set(func(f *fakeCaller) { f.fail = true })
	before := tr.caller.callCount("balanceOf")
	tr.tickers[0].Force <- time.Now()

	require.Eventually(t, func() bool {
		return tr.caller.callCount("balanceOf") > before
	}, waitFor, pollTick)
	tr.do(func(*Reader) {})
	require.True(t, equals(tr.snapshot().SourceBalance, 5))

	tr.caller.set(func(f *fakeCaller) {
		f.fail = false
		f.balances[tokenA] = big.NewInt(6)
	})
	tr.tickers[0].Force <- time.Now()
	tr.eventually(func(s Snapshot) bool { return equals(s.SourceBalance, 6) }, "retried on next tick")
}

func TestReaderForceRefreshReissuesAll(t *testing.T) {
	tr := newTestReader(t)

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, true)
	})
	tr.eventually(func(s Snapshot) bool {
		return s.SourceBalance != nil && s.DestBalance != nil && s.Allowance != nil
	}, "initial reads")

	balanceCalls := tr.caller.callCount("balanceOf")
	allowanceCalls := tr.caller.callCount("allowance")

	tr.caller.set(func(f *fakeCaller) { f.allowances[tokenA] = big.NewInt(99) })
	tr.do(func(r *Reader) { r.ForceRefresh(nil) })

	tr.eventually(func(s Snapshot) bool { return equals(s.Allowance, 99) }, "forced allowance read")
	require.Equal(t, balanceCalls+2, tr.caller.callCount("balanceOf"))
	require.Equal(t, allowanceCalls+1, tr.caller.callCount("allowance"))
}

func TestWatchDiscardsOutOfOrderResult(t *testing.T) {
	tr := newTestReader(t)

	target := Target{Token: tokenA, Owner: owner}
	var w *Watch
	tr.do(func(r *Reader) {
		w = r.SourceBalance
		w.target = target
		w.issued = 2
		w.complete(2, target, big.NewInt(7), nil)
		w.complete(1, target, big.NewInt(3), nil)
	})

	require.True(t, equals(tr.snapshot().SourceBalance, 7))
}

func TestReaderForceRefreshDoneAfterReadsLand(t *testing.T) {
	tr := newTestReader(t)
	tr.caller.set(func(f *fakeCaller) { f.allowances[tokenA] = big.NewInt(1) })

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, true)
	})
	tr.eventually(func(s Snapshot) bool { return equals(s.Allowance, 1) }, "initial reads")

	// Hold every token A read so the forced source and allowance reads stall.
	gate := make(chan struct{})
	tr.caller.set(func(f *fakeCaller) {
		f.gates[tokenA] = gate
		f.allowances[tokenA] = big.NewInt(50)
	})

	done := 0
	tr.do(func(r *Reader) { r.ForceRefresh(func() { done++ }) })

	require.Eventually(t, func() bool {
		return tr.caller.callCount("allowance") >= 2
	}, waitFor, pollTick, "forced allowance read issued")
	tr.do(func(*Reader) { require.Zero(t, done, "forced reads still outstanding") })

	tr.caller.set(func(f *fakeCaller) { delete(f.gates, tokenA) })
	close(gate)

	require.Eventually(t, func() bool {
		var n int
		tr.do(func(*Reader) { n = done })
		return n == 1
	}, waitFor, pollTick, "done runs once every forced read landed")
	require.True(t, equals(tr.snapshot().Allowance, 50), "value stored before done")
}

func TestReaderForceRefreshDoneWaitsForSuccessfulRead(t *testing.T) {
	tr := newTestReader(t)

	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, true)
	})
	tr.eventually(func(s Snapshot) bool {
		return s.SourceBalance != nil && s.DestBalance != nil && s.Allowance != nil
	}, "initial reads")

	tr.caller.set(func(f *fakeCaller) { f.fail = true })
	before := tr.caller.callCount("allowance")

	done := 0
	tr.do(func(r *Reader) { r.ForceRefresh(func() { done++ }) })

	require.Eventually(t, func() bool {
		return tr.caller.callCount("allowance") > before
	}, waitFor, pollTick)
	tr.do(func(*Reader) {})
	tr.do(func(*Reader) { require.Zero(t, done, "failed reads do not count") })

	tr.caller.set(func(f *fakeCaller) {
		f.fail = false
		f.allowances[tokenA] = big.NewInt(8)
	})
	for _, tk := range tr.tickers {
		tk.Force <- time.Now()
	}

	require.Eventually(t, func() bool {
		var n int
		tr.do(func(*Reader) { n = done })
		return n == 1
	}, waitFor, pollTick, "a later successful poll completes the refresh")
	require.True(t, equals(tr.snapshot().Allowance, 8))
}

func TestReaderForceRefreshDisabledIsImmediate(t *testing.T) {
	tr := newTestReader(t)

	done := 0
	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.ForceRefresh(func() { done++ })
	})
	tr.do(func(*Reader) { require.Equal(t, 1, done) })
	require.Zero(t, tr.caller.callCount("balanceOf"))
}

func TestWatchDisableReleasesWaiters(t *testing.T) {
	tr := newTestReader(t)

	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	tr.caller.set(func(f *fakeCaller) { f.gates[tokenA] = gate })

	done := 0
	tr.do(func(r *Reader) {
		r.Retarget(tokenA, tokenB, owner)
		r.SetEnabled(true, false)
		r.SourceBalance.Refresh(func() { done++ })
		require.Zero(t, done)

		r.SetEnabled(false, false)
		require.Equal(t, 1, done)
	})
}
