// Package txn sequences approve and swap transactions through a single slot
// that tracks one transaction from submission to confirmation.
package txn

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sirupsen/logrus"

	"stablefx/pkg/chain"
	"stablefx/pkg/eventloop"
	"stablefx/pkg/metrics"
)

// DefaultResetDelay is how long a confirmed record stays visible before the
// slot returns to idle.
const DefaultResetDelay = 2 * time.Second

var (
	// ErrBusy is returned when a submit arrives while a transaction occupies the slot
	ErrBusy = errors.New("a transaction is already in flight")

	// ErrInvalidAmount is returned for a swap with a non-positive input amount
	ErrInvalidAmount = errors.New("swap amount must be positive")
)

// Kind of transaction
type Kind string

const (
	KindApprove Kind = "approve"
	KindSwap    Kind = "swap"
)

// Phase of the transaction slot
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitted  Phase = "submitted"
	PhaseConfirming Phase = "confirming"
	PhaseConfirmed  Phase = "confirmed"
	PhaseFailed     Phase = "failed"
)

// Record is the state of the single transaction slot. Hash is only
// meaningful when HasHash is set.
type Record struct {
	ID      uuid.UUID
	Kind    Kind
	Hash    common.Hash
	HasHash bool
	Phase   Phase
	Err     error
}

// InFlight reports whether the slot is occupied
func (r Record) InFlight() bool {
	switch r.Phase {
	case PhaseSubmitted, PhaseConfirming, PhaseConfirmed:
		return true
	}
	return false
}

// Config wires an Orchestrator
type Config struct {
	Loop       *eventloop.Loop
	Transactor chain.Transactor

	// Contract is the swap contract swap calls are sent to
	Contract common.Address

	// Clock defaults to the wall clock
	Clock clock.Clock

	// ResetDelay defaults to DefaultResetDelay
	ResetDelay time.Duration

	// OnConfirmed runs on the loop as soon as a transaction confirms. The
	// slot stays confirmed until refreshed has been called on the loop and
	// the reset delay has passed.
	OnConfirmed func(rec Record, refreshed func())

	// OnChange runs on the loop after every record transition
	OnChange func()

	Logger logrus.FieldLogger
}

// Orchestrator owns the transaction slot. Submit methods and Record must be
// called on the loop.
type Orchestrator struct {
	cfg    Config
	logger logrus.FieldLogger

	record Record

	// gen identifies the current record; completions for older records are dropped
	gen uint64

	// Outstanding conditions for resetting a confirmed record.
	awaitDelay   bool
	awaitRefresh bool
}

// New creates an idle orchestrator
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = DefaultResetDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.WithField("component", "txn"),
		record: Record{Phase: PhaseIdle},
	}
}

// Record returns the current slot state
func (o *Orchestrator) Record() Record {
	return o.record
}

// SubmitApprove grants spender an unbounded allowance on token
func (o *Orchestrator) SubmitApprove(token, spender common.Address) error {
	return o.submit(KindApprove, func(ctx context.Context) (common.Hash, error) {
		return chain.Approve(ctx, o.cfg.Transactor, token, spender, chain.MaxAllowance())
	})
}

// SubmitSwap calls swap(tokenIn, tokenOut, amountIn, minAmountOut) on the
// swap contract. Allowance is not checked here.
func (o *Orchestrator) SubmitSwap(tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if minAmountOut == nil {
		minAmountOut = new(big.Int)
	}

	in := new(big.Int).Set(amountIn)
	minOut := new(big.Int).Set(minAmountOut)

	return o.submit(KindSwap, func(ctx context.Context) (common.Hash, error) {
		return chain.Swap(ctx, o.cfg.Transactor, o.cfg.Contract, tokenIn, tokenOut, in, minOut)
	})
}

func (o *Orchestrator) submit(kind Kind, send func(ctx context.Context) (common.Hash, error)) error {
	if o.record.InFlight() {
		return fmt.Errorf("%w: %s is %s", ErrBusy, o.record.Kind, o.record.Phase)
	}

	o.gen++
	gen := o.gen
	o.record = Record{
		ID:    uuid.New(),
		Kind:  kind,
		Phase: PhaseSubmitted,
	}

	o.recordLogger().Info("submitting transaction")
	o.notify()

	o.cfg.Loop.Go(func(ctx context.Context) func() {
		hash, err := send(ctx)
		return func() {
			o.onSent(gen, hash, err)
		}
	})

	return nil
}

func (o *Orchestrator) onSent(gen uint64, hash common.Hash, err error) {
	if gen != o.gen {
		return
	}
	if err != nil {
		o.fail(err)
		return
	}

	o.record.Hash = hash
	o.record.HasHash = true
	o.record.Phase = PhaseConfirming

	o.recordLogger().Info("transaction sent, waiting for confirmation")
	o.notify()

	o.cfg.Loop.Go(func(ctx context.Context) func() {
		err := o.cfg.Transactor.WaitConfirmed(ctx, hash)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return func() {
			o.onMined(gen, err)
		}
	})
}

func (o *Orchestrator) onMined(gen uint64, err error) {
	if gen != o.gen {
		return
	}
	if err != nil {
		o.fail(err)
		return
	}

	o.record.Phase = PhaseConfirmed
	metrics.RecordTransaction(string(o.record.Kind), metrics.ResultSuccess)
	o.recordLogger().Info("transaction confirmed")

	o.awaitDelay = true
	o.awaitRefresh = o.cfg.OnConfirmed != nil

	// Reset deadline counts from confirmation.
	reset := o.cfg.Clock.TickAfter(o.cfg.ResetDelay)
	o.cfg.Loop.Go(func(ctx context.Context) func() {
		select {
		case <-reset:
			return func() {
				if gen == o.gen {
					o.awaitDelay = false
					o.resetIfCurrent(gen)
				}
			}
		case <-ctx.Done():
			return nil
		}
	})

	if o.cfg.OnConfirmed != nil {
		o.cfg.OnConfirmed(o.record, func() {
			if gen == o.gen && o.awaitRefresh {
				o.awaitRefresh = false
				o.recordLogger().Debug("post-confirmation refresh landed")
				o.resetIfCurrent(gen)
			}
		})
	}
	o.notify()
}

func (o *Orchestrator) resetIfCurrent(gen uint64) {
	if gen != o.gen || o.record.Phase != PhaseConfirmed {
		return
	}
	if o.awaitDelay || o.awaitRefresh {
		return
	}

	o.logger.WithField("id", o.record.ID).Debug("resetting transaction slot")
	o.record = Record{Phase: PhaseIdle}
	o.notify()
}

func (o *Orchestrator) fail(err error) {
	o.record.Phase = PhaseFailed
	o.record.Err = err

	result := metrics.ResultFailure
	if errors.Is(err, chain.ErrRejected) {
		result = metrics.ResultRejected
	}
	metrics.RecordTransaction(string(o.record.Kind), result)

	o.recordLogger().WithError(err).Warn("transaction failed")
	o.notify()
}

func (o *Orchestrator) recordLogger() logrus.FieldLogger {
	fields := logrus.Fields{
		"id":    o.record.ID,
		"kind":  o.record.Kind,
		"phase": o.record.Phase,
	}
	if o.record.HasHash {
		fields["hash"] = o.record.Hash.Hex()
	}
	return o.logger.WithFields(fields)
}

func (o *Orchestrator) notify() {
	if o.cfg.OnChange != nil {
		o.cfg.OnChange()
	}
}
