package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when an event is offered to a stopped loop
var ErrStopped = errors.New("event loop stopped")

const defaultQueueSize = 64

// Loop runs posted events one at a time on a single goroutine. State owned by
// components built on a Loop must only be touched from inside its events.
type Loop struct {
	events chan func()
	quit   chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a loop. It does not process events until Start is called.
func New() *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		events: make(chan func(), defaultQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing events
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop cancels outstanding remote work, stops event processing and waits for
// background goroutines started with Go to return.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		close(l.quit)
		l.startOnce.Do(func() { close(l.done) })
		<-l.done
		l.wg.Wait()
	})
}

// Context is cancelled when the loop stops
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Post queues fn to run on the loop. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}

	select {
	case l.events <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from inside an event.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrStopped
	}
}

// Go runs work off the loop with the loop's context and posts the completion
// it returns back onto the loop. A nil completion is not posted. Go is meant
// to be called from inside an event.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	select {
	case <-l.quit:
		return
	default:
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		complete := work(l.ctx)
		if complete != nil {
			l.Post(complete)
		}
	}()
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		select {
		case fn := <-l.events:
			fn()
		case <-l.quit:
			return
		}
	}
}
