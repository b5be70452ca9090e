package chainstate

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sirupsen/logrus"

	"stablefx/pkg/eventloop"
	"stablefx/pkg/metrics"
)

// Target identifies what a read is issued for. Spender is zero for balance reads.
type Target struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
}

// ReadFunc performs one remote read for target
type ReadFunc func(ctx context.Context, target Target) (*big.Int, error)

// Watch keeps one remote value fresh by polling. All methods must be called
// on the owning loop.
type Watch struct {
	name     string
	kind     string
	read     ReadFunc
	ticker   ticker.Ticker
	loop     *eventloop.Loop
	logger   logrus.FieldLogger
	onChange func()

	target  Target
	enabled bool
	value   *big.Int

	// issued is the sequence number of the newest request, applied that of
	// the newest result stored in value.
	issued  uint64
	applied uint64

	waiters []waiter
}

// waiter runs done once a result at or after seq has been applied
type waiter struct {
	seq  uint64
	done func()
}

func newWatch(name, kind string, read ReadFunc, t ticker.Ticker, loop *eventloop.Loop,
	logger logrus.FieldLogger, onChange func()) *Watch {

	return &Watch{
		name:     name,
		kind:     kind,
		read:     read,
		ticker:   t,
		loop:     loop,
		logger:   logger.WithField("read", name),
		onChange: onChange,
	}
}

// start resumes the ticker and forwards its ticks onto the loop
func (w *Watch) start() {
	w.ticker.Resume()
	ticks := w.ticker.Ticks()

	w.loop.Go(func(ctx context.Context) func() {
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-ticks:
				if !ok {
					return nil
				}
				w.loop.Post(w.tick)
			}
		}
	})
}

func (w *Watch) stop() {
	w.ticker.Stop()
}

// Value returns the last successfully read value, or nil while unknown
func (w *Watch) Value() *big.Int {
	if w.value == nil {
		return nil
	}
	return new(big.Int).Set(w.value)
}

// Target returns what the watch currently reads
func (w *Watch) Target() Target {
	return w.target
}

// Enabled reports whether polling ticks issue reads
func (w *Watch) Enabled() bool {
	return w.enabled
}

// SetTarget points the watch at a new target. The cached value is dropped so
// it can never be shown against the new target, and a fresh read is issued.
func (w *Watch) SetTarget(target Target) {
	if target == w.target {
		return
	}

	w.target = target
	if w.value != nil {
		w.value = nil
		w.notify()
	}

	if w.enabled {
		w.issue()
	}
}

// SetEnabled turns polling on or off. Enabling issues a read immediately.
func (w *Watch) SetEnabled(enabled bool) {
	if enabled == w.enabled {
		return
	}

	w.enabled = enabled
	if enabled {
		w.issue()
		return
	}

	// Nothing more will be read for pending waiters.
	w.release(^uint64(0))
}

// ForceRefresh issues a read now instead of waiting for the next tick
func (w *Watch) ForceRefresh() {
	w.Refresh(nil)
}

// Refresh issues a read now and runs done on the loop once a result of that
// read or a later one has been stored. A failed read leaves done pending
// until a later poll succeeds. done runs immediately while disabled.
func (w *Watch) Refresh(done func()) {
	if !w.enabled {
		if done != nil {
			done()
		}
		return
	}

	w.issue()
	if done != nil {
		w.waiters = append(w.waiters, waiter{seq: w.issued, done: done})
	}
}

func (w *Watch) tick() {
	if !w.enabled {
		return
	}
	w.issue()
}

func (w *Watch) issue() {
	w.issued++
	seq := w.issued
	target := w.target

	w.loop.Go(func(ctx context.Context) func() {
		value, err := w.read(ctx, target)
		return func() {
			w.complete(seq, target, value, err)
		}
	})
}

func (w *Watch) complete(seq uint64, target Target, value *big.Int, err error) {
	if target != w.target || seq <= w.applied {
		w.logger.WithField("seq", seq).Debug("discarding superseded read")
		metrics.RecordRead(w.kind, metrics.ResultDiscarded)
		return
	}

	if err == nil && value == nil {
		err = errors.New("read returned no value")
	}
	if err != nil {
		w.logger.WithError(err).Warn("read failed, keeping last value")
		metrics.RecordRead(w.kind, metrics.ResultFailure)
		return
	}

	metrics.RecordRead(w.kind, metrics.ResultSuccess)
	w.applied = seq

	if w.value == nil || w.value.Cmp(value) != 0 {
		w.value = new(big.Int).Set(value)
		w.notify()
	}
	w.release(seq)
}

// release runs the waiters satisfied by a result at seq
func (w *Watch) release(seq uint64) {
	waiters := w.waiters
	w.waiters = nil
	for _, wt := range waiters {
		if wt.seq <= seq {
			wt.done()
			continue
		}
		w.waiters = append(w.waiters, wt)
	}
}

func (w *Watch) notify() {
	if w.onChange != nil {
		w.onChange()
	}
}
