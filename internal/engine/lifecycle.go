package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"simtrader/internal/core"
	"simtrader/internal/session"
)

// Dispatcher invokes strategy hooks with two protections: panics and errors
// are isolated so a broken strategy cannot take the framework down, and in
// simulation mode a watchdog flags hooks that block long enough to drift away
// from the wall clock.
type Dispatcher struct {
	sess           *session.Session
	strategy       session.Strategy
	blockThreshold time.Duration
	logger         core.ILogger
}

// NewDispatcher creates a dispatcher for the registered strategy.
func NewDispatcher(sess *session.Session, strategy session.Strategy, blockThresholdSeconds int, logger core.ILogger) *Dispatcher {
	return &Dispatcher{
		sess:           sess,
		strategy:       strategy,
		blockThreshold: time.Duration(blockThresholdSeconds) * time.Second,
		logger:         logger.WithField("component", "lifecycle"),
	}
}

func (d *Dispatcher) invoke(fn func(*session.Session) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(d.sess)
}

func (d *Dispatcher) callHook(name string, fn func(*session.Session) error) {
	if d.strategy == nil {
		d.logger.Error("No strategy registered", "hook", name)
		return
	}

	d.logger.Debug("Calling strategy hook", "hook", name)
	start := time.Now()
	err := d.invoke(fn)

	// The watchdog runs before the error check: a failing hook can still have
	// blocked past the real-time window and must trigger a resync.
	if d.sess.Mode() == core.ModeSimulation {
		if elapsed := time.Since(start); elapsed > d.blockThreshold {
			d.logger.Warn("Strategy hook blocked past threshold; requesting time resync",
				"hook", name, "elapsed", elapsed.String())
			d.sess.RequestResync()
		}
	}

	if err != nil {
		d.logger.Error("Strategy hook failed", "hook", name, "error", err)
		d.sess.MarkStrategyError()
	}
}

// CallInitialize runs the strategy's Initialize hook with the initializing
// flag raised, which unlocks AddSchedule and SetInitialState.
func (d *Dispatcher) CallInitialize() {
	d.sess.SetInitializing(true)
	defer d.sess.SetInitializing(false)
	d.callHook("initialize", d.strategy.Initialize)
}

func (d *Dispatcher) CallBeforeTrading() { d.callHook("before_trading", d.strategy.BeforeTrading) }
func (d *Dispatcher) CallHandleBar()     { d.callHook("handle_bar", d.strategy.HandleBar) }
func (d *Dispatcher) CallAfterTrading()  { d.callHook("after_trading", d.strategy.AfterTrading) }
func (d *Dispatcher) CallBrokerSettle()  { d.callHook("broker_settle", d.strategy.BrokerSettle) }
func (d *Dispatcher) CallOnEnd()         { d.callHook("on_end", d.strategy.OnEnd) }
