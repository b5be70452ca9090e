package chainstate

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sirupsen/logrus"

	"stablefx/pkg/chain"
	"stablefx/pkg/eventloop"
)

// DefaultPollInterval is how often each read is re-issued while enabled
const DefaultPollInterval = 3 * time.Second

// Config wires a Reader to the loop and the ledger
type Config struct {
	Loop    *eventloop.Loop
	Caller  chain.Caller
	Spender common.Address

	// PollInterval defaults to DefaultPollInterval
	PollInterval time.Duration

	// NewTicker defaults to ticker.New
	NewTicker func(time.Duration) ticker.Ticker

	// OnChange runs on the loop whenever any cached value changes
	OnChange func()

	Logger logrus.FieldLogger
}

// Snapshot is a point-in-time copy of the three cached values. Nil means unknown.
type Snapshot struct {
	SourceBalance *big.Int
	DestBalance   *big.Int
	Allowance     *big.Int
}

// Reader polls the payer's source and destination balances and the source
// allowance granted to the swap contract. All methods except Start and Stop
// must be called on the loop.
type Reader struct {
	SourceBalance *Watch
	DestBalance   *Watch
	Allowance     *Watch

	spender common.Address
}

// NewReader builds the three watches. Call Start to begin polling.
func NewReader(cfg Config) *Reader {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) ticker.Ticker { return ticker.New(d) }
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	logger := cfg.Logger.WithField("component", "chainstate")

	readBalance := func(ctx context.Context, t Target) (*big.Int, error) {
		return chain.BalanceOf(ctx, cfg.Caller, t.Token, t.Owner)
	}
	readAllowance := func(ctx context.Context, t Target) (*big.Int, error) {
		return chain.Allowance(ctx, cfg.Caller, t.Token, t.Owner, t.Spender)
	}

	return &Reader{
		SourceBalance: newWatch("source_balance", "balance", readBalance,
			cfg.NewTicker(cfg.PollInterval), cfg.Loop, logger, cfg.OnChange),
		DestBalance: newWatch("dest_balance", "balance", readBalance,
			cfg.NewTicker(cfg.PollInterval), cfg.Loop, logger, cfg.OnChange),
		Allowance: newWatch("allowance", "allowance", readAllowance,
			cfg.NewTicker(cfg.PollInterval), cfg.Loop, logger, cfg.OnChange),
		spender: cfg.Spender,
	}
}

// Start begins forwarding poll ticks onto the loop
func (r *Reader) Start() {
	for _, w := range r.watches() {
		w.start()
	}
}

// Stop halts the tickers
func (r *Reader) Stop() {
	for _, w := range r.watches() {
		w.stop()
	}
}

// Retarget points the reads at a new token pair and owner
func (r *Reader) Retarget(source, dest, owner common.Address) {
	r.SourceBalance.SetTarget(Target{Token: source, Owner: owner})
	r.DestBalance.SetTarget(Target{Token: dest, Owner: owner})
	r.Allowance.SetTarget(Target{Token: source, Owner: owner, Spender: r.spender})
}

// SetEnabled enables the balance reads while connected, and the allowance
// read only while connected with an amount entered.
func (r *Reader) SetEnabled(connected, hasAmount bool) {
	r.SourceBalance.SetEnabled(connected)
	r.DestBalance.SetEnabled(connected)
	r.Allowance.SetEnabled(connected && hasAmount)
}

// ForceRefresh re-issues every enabled read immediately. done, if set, runs
// on the loop once every one of those reads has landed.
func (r *Reader) ForceRefresh(done func()) {
	watches := r.watches()
	pending := len(watches)
	finish := func() {
		pending--
		if pending == 0 && done != nil {
			done()
		}
	}

	for _, w := range watches {
		w.Refresh(finish)
	}
}

// Snapshot copies the cached values
func (r *Reader) Snapshot() Snapshot {
	return Snapshot{
		SourceBalance: r.SourceBalance.Value(),
		DestBalance:   r.DestBalance.Value(),
		Allowance:     r.Allowance.Value(),
	}
}

func (r *Reader) watches() []*Watch {
	return []*Watch{r.SourceBalance, r.DestBalance, r.Allowance}
}
