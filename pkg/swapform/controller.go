// Package swapform coordinates token selection, the entered amount, the
// chain state reader and the transaction orchestrator into one observable
// form state.
package swapform

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sirupsen/logrus"

	"stablefx/pkg/approval"
	"stablefx/pkg/chain"
	"stablefx/pkg/chainstate"
	"stablefx/pkg/eventloop"
	"stablefx/pkg/quote"
	"stablefx/pkg/token"
	"stablefx/pkg/txn"
)

var (
	// ErrNotConnected is returned by PrimaryAction without a connected wallet
	ErrNotConnected = errors.New("wallet not connected")

	// ErrNoAmount is returned by PrimaryAction when no positive amount is entered
	ErrNoAmount = errors.New("enter an amount to swap")
)

// Session is the wallet connection the form acts for
type Session interface {
	IsConnected() bool
	Account() common.Address
}

// Wallet is a Session backed by a fixed account. The zero Wallet is disconnected.
type Wallet struct {
	Address common.Address
}

func (w Wallet) IsConnected() bool {
	return w.Address != (common.Address{})
}

func (w Wallet) Account() common.Address {
	return w.Address
}

// Config wires a Controller
type Config struct {
	Loop       *eventloop.Loop
	Caller     chain.Caller
	Transactor chain.Transactor
	Registry   *token.Registry
	Session    Session

	// Contract is the swap contract, also the allowance spender
	Contract common.Address

	// ExplorerURL is the block explorer base, e.g. https://testnet.arcscan.app
	ExplorerURL string

	PollInterval time.Duration
	ResetDelay   time.Duration
	Clock        clock.Clock
	NewTicker    func(time.Duration) ticker.Ticker

	Logger logrus.FieldLogger
}

// Controller owns the form. Its exported methods may be called from any
// goroutine; the work runs on the loop.
type Controller struct {
	loop     *eventloop.Loop
	registry *token.Registry
	reader   *chainstate.Reader
	orch     *txn.Orchestrator
	logger   logrus.FieldLogger

	contract    common.Address
	explorerURL string

	changed chan struct{}

	// Owned by the loop.
	session       Session
	source        token.Token
	dest          token.Token
	amount        string
	estimate      string
	fee           string
	needsApproval bool
}

// New builds a controller with the first two registry tokens selected as
// source and destination.
func New(cfg Config) (*Controller, error) {
	if cfg.Registry == nil {
		cfg.Registry = token.Default()
	}
	tokens := cfg.Registry.All()
	if len(tokens) < 2 {
		return nil, fmt.Errorf("registry needs at least two tokens, has %d", len(tokens))
	}
	if cfg.Session == nil {
		cfg.Session = Wallet{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	c := &Controller{
		loop:        cfg.Loop,
		registry:    cfg.Registry,
		logger:      cfg.Logger.WithField("component", "swapform"),
		contract:    cfg.Contract,
		explorerURL: strings.TrimRight(cfg.ExplorerURL, "/"),
		changed:     make(chan struct{}, 1),
		session:     cfg.Session,
		source:      tokens[0],
		dest:        tokens[1],
	}

	c.reader = chainstate.NewReader(chainstate.Config{
		Loop:         cfg.Loop,
		Caller:       cfg.Caller,
		Spender:      cfg.Contract,
		PollInterval: cfg.PollInterval,
		NewTicker:    cfg.NewTicker,
		OnChange:     c.derive,
		Logger:       cfg.Logger,
	})

	c.orch = txn.New(txn.Config{
		Loop:        cfg.Loop,
		Transactor:  cfg.Transactor,
		Contract:    cfg.Contract,
		Clock:       cfg.Clock,
		ResetDelay:  cfg.ResetDelay,
		OnConfirmed: c.onConfirmed,
		OnChange:    c.derive,
		Logger:      cfg.Logger,
	})

	c.estimate = quote.EstimateOutput("")
	c.fee = quote.EstimateFee("")

	return c, nil
}

// Start begins polling. The loop must already be running.
func (c *Controller) Start(ctx context.Context) error {
	c.reader.Start()
	return c.loop.Do(ctx, func() {
		c.retarget()
		c.refresh()
	})
}

// Stop halts polling
func (c *Controller) Stop() {
	c.reader.Stop()
}

// Changed is signalled after any state change. Signals coalesce.
func (c *Controller) Changed() <-chan struct{} {
	return c.changed
}

// SetSession replaces the wallet session, re-targeting every read
func (c *Controller) SetSession(ctx context.Context, s Session) error {
	if s == nil {
		s = Wallet{}
	}
	return c.loop.Do(ctx, func() {
		c.session = s
		c.retarget()
		c.refresh()
	})
}

// SetAmount stores the entered amount text. Unparseable text is kept and
// simply yields a zero estimate.
func (c *Controller) SetAmount(ctx context.Context, text string) error {
	return c.loop.Do(ctx, func() {
		c.amount = strings.TrimSpace(text)
		c.refresh()
	})
}

// SwapTokenPair exchanges source and destination
func (c *Controller) SwapTokenPair(ctx context.Context) error {
	return c.loop.Do(ctx, func() {
		c.swapPair()
	})
}

// SelectSource picks the source token by symbol. Picking the current
// destination swaps the pair.
func (c *Controller) SelectSource(ctx context.Context, symbol string) error {
	t, err := c.registry.Lookup(symbol)
	if err != nil {
		return err
	}
	return c.loop.Do(ctx, func() {
		switch t.Address {
		case c.source.Address:
		case c.dest.Address:
			c.swapPair()
		default:
			c.source = t
			c.retarget()
			c.refresh()
		}
	})
}

// SelectDest picks the destination token by symbol. Picking the current
// source swaps the pair.
func (c *Controller) SelectDest(ctx context.Context, symbol string) error {
	t, err := c.registry.Lookup(symbol)
	if err != nil {
		return err
	}
	return c.loop.Do(ctx, func() {
		switch t.Address {
		case c.dest.Address:
		case c.source.Address:
			c.swapPair()
		default:
			c.dest = t
			c.retarget()
			c.refresh()
		}
	})
}

// PrimaryAction submits an approval when one is needed, otherwise the swap
func (c *Controller) PrimaryAction(ctx context.Context) error {
	var err error
	doErr := c.loop.Do(ctx, func() {
		err = c.primaryAction()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// State returns the current form state
func (c *Controller) State(ctx context.Context) (State, error) {
	var s State
	err := c.loop.Do(ctx, func() {
		s = c.state()
	})
	return s, err
}

func (c *Controller) primaryAction() error {
	if !c.session.IsConnected() {
		return ErrNotConnected
	}
	if !c.hasAmount() {
		return ErrNoAmount
	}

	if c.needsApproval {
		c.logger.WithField("token", c.source.Symbol).Info("approval required before swap")
		return c.orch.SubmitApprove(c.source.Address, c.contract)
	}

	amountIn, err := quote.ToUnits(c.amount, c.source.Decimals)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", c.amount, err)
	}
	minOut := quote.MinAmountOut(amountIn)

	c.logger.WithFields(logrus.Fields{
		"from":       c.source.Symbol,
		"to":         c.dest.Symbol,
		"amount_in":  amountIn.String(),
		"min_amount": minOut.String(),
	}).Info("submitting swap")

	return c.orch.SubmitSwap(c.source.Address, c.dest.Address, amountIn, minOut)
}

func (c *Controller) swapPair() {
	c.source, c.dest = c.dest, c.source
	c.retarget()
	c.refresh()
}

func (c *Controller) retarget() {
	c.reader.Retarget(c.source.Address, c.dest.Address, c.session.Account())
}

func (c *Controller) onConfirmed(r txn.Record, refreshed func()) {
	c.logger.WithFields(logrus.Fields{
		"kind": r.Kind,
		"hash": r.Hash.Hex(),
	}).Debug("refreshing chain state after confirmation")
	c.reader.ForceRefresh(refreshed)
}

// hasAmount reports whether the entered amount is at least one base unit of
// the source token, i.e. something a swap could actually send.
func (c *Controller) hasAmount() bool {
	units, err := quote.ToUnits(c.amount, c.source.Decimals)
	return err == nil && units.Sign() > 0
}

// refresh applies a user-side mutation: read enablement, then derived values
func (c *Controller) refresh() {
	c.reader.SetEnabled(c.session.IsConnected(), c.hasAmount())
	c.derive()
}

// derive recomputes every value that depends on amount, pair or allowance
func (c *Controller) derive() {
	c.estimate = quote.EstimateOutput(c.amount)
	c.fee = quote.EstimateFee(c.amount)
	c.needsApproval = approval.NeedsApproval(c.amount, c.source.Decimals, c.reader.Allowance.Value())
	c.signal()
}

func (c *Controller) signal() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Controller) state() State {
	snap := c.reader.Snapshot()
	rec := c.orch.Record()
	connected := c.session.IsConnected()
	positive := c.hasAmount()

	s := State{
		Connected:       connected,
		Account:         c.session.Account(),
		Source:          c.source,
		Dest:            c.dest,
		Amount:          c.amount,
		EstimatedOutput: c.estimate,
		Fee:             c.fee,
		SourceBalance:   snap.SourceBalance,
		DestBalance:     snap.DestBalance,
		Allowance:       snap.Allowance,
		NeedsApproval:   c.needsApproval,
		Tx:              rec,
		ActionEnabled:   connected && positive && !rec.InFlight(),
		ContractURL:     c.explorerURL + "/address/" + c.contract.Hex(),
	}

	s.SourceBalanceText = quote.FormatBalance(snap.SourceBalance, c.source.Decimals)
	s.DestBalanceText = quote.FormatBalance(snap.DestBalance, c.dest.Decimals)

	if positive {
		s.RateText = fmt.Sprintf("1 %s = 1 %s", c.source.Symbol, c.dest.Symbol)
		s.FeeText = fmt.Sprintf("%s %s", c.fee, c.source.Symbol)
	}
	if rec.HasHash {
		s.ExplorerURL = TxURL(c.explorerURL, rec.Hash)
	}

	s.Phase = project(connected, c.needsApproval, positive, rec)
	s.Label = s.Phase.Label(c.source.Symbol)

	return s
}

// TxURL links a transaction on the block explorer
func TxURL(explorerURL string, hash common.Hash) string {
	return strings.TrimRight(explorerURL, "/") + "/tx/" + hash.Hex()
}

// State is a consistent snapshot of the form
type State struct {
	Phase         Phase
	Label         string
	ActionEnabled bool

	Connected bool
	Account   common.Address

	Source token.Token
	Dest   token.Token
	Amount string

	EstimatedOutput string
	Fee             string

	// RateText and FeeText are empty until a positive amount is entered
	RateText string
	FeeText  string

	// Nil while unknown
	SourceBalance *big.Int
	DestBalance   *big.Int
	Allowance     *big.Int

	SourceBalanceText string
	DestBalanceText   string

	NeedsApproval bool
	Tx            txn.Record

	// ExplorerURL links the current transaction once it has a hash
	ExplorerURL string
	ContractURL string
}
