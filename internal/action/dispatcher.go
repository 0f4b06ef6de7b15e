package action

import (
	"context"
	"sync"
	"time"

	logx "dailytask/pkg/logx"
)

// Dispatcher performs actions by kind. Failures are logged and swallowed:
// the scheduler records the day as handled either way. A timed pump run
// returns once the pump is on; the off write happens on a tracked goroutine.
type Dispatcher struct {
	log  logx.Logger
	pins Pins

	mu     sync.RWMutex
	wiring Wiring

	holds    sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(pins Pins, w Wiring, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:    log.With(logx.String("comp", "action")),
		pins:   pins,
		wiring: w,
		stop:   make(chan struct{}),
	}
}

// SetWiring swaps the pin assignment used by later dispatches.
func (d *Dispatcher) SetWiring(w Wiring) {
	d.mu.Lock()
	d.wiring = w
	d.mu.Unlock()
}

func (d *Dispatcher) Wiring() Wiring {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wiring
}

// Dispatch performs k and reports whether it completed without error.
func (d *Dispatcher) Dispatch(ctx context.Context, k Kind) bool {
	a, err := build(k, d.pins, d.Wiring(), d.log, d.spawn)
	if err != nil {
		d.log.Error("action unavailable", logx.Stringer("action", k), logx.Err(err))
		return false
	}
	start := time.Now()
	if err := a.Perform(ctx); err != nil {
		d.log.Error("action failed", logx.Stringer("action", k), logx.Err(err))
		return false
	}
	d.log.Debug("action done", logx.Stringer("action", k), logx.Duration("took", time.Since(start)))
	return true
}

func (d *Dispatcher) spawn(fn func(stop <-chan struct{})) {
	d.holds.Add(1)
	go func() {
		defer d.holds.Done()
		fn(d.stop)
	}()
}

// Wait blocks until every running pump has been switched off.
func (d *Dispatcher) Wait() { d.holds.Wait() }

// Close switches off running pumps now and waits for the writes.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	d.holds.Wait()
	return nil
}
