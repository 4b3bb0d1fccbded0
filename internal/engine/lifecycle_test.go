package engine

import (
	"errors"
	"testing"

	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/session"
	"simtrader/pkg/logging"

	"github.com/stretchr/testify/assert"
)

func newDispatcherSession(mode core.Mode) *session.Session {
	cfg := config.DefaultConfig()
	cfg.Engine.Mode = mode
	cfg.Engine.StartDate = "2024-03-04"
	cfg.Engine.EndDate = "2024-03-08"
	return session.New(cfg, logging.NopLogger{})
}

func TestHookErrorMarksStrategyError(t *testing.T) {
	sess := newDispatcherSession(core.ModeBacktest)
	strat := &scriptedStrategy{
		onHandleBar: func(*session.Session) error { return errors.New("boom") },
	}
	d := NewDispatcher(sess, strat, 5, logging.NopLogger{})

	d.CallHandleBar()

	assert.True(t, sess.StrategyErrorToday())
}

func TestHookPanicIsRecovered(t *testing.T) {
	sess := newDispatcherSession(core.ModeBacktest)
	strat := &scriptedStrategy{
		onHandleBar: func(*session.Session) error { panic("strategy bug") },
	}
	d := NewDispatcher(sess, strat, 5, logging.NopLogger{})

	assert.NotPanics(t, d.CallHandleBar)
	assert.True(t, sess.StrategyErrorToday())
}

func TestCallInitializeRaisesInitializingFlag(t *testing.T) {
	sess := newDispatcherSession(core.ModeBacktest)

	var duringHook bool
	strat := &scriptedStrategy{
		onInitialize: func(s *session.Session) error {
			duringHook = s.IsInitializing()
			return nil
		},
	}
	d := NewDispatcher(sess, strat, 5, logging.NopLogger{})

	d.CallInitialize()

	assert.True(t, duringHook)
	assert.False(t, sess.IsInitializing(), "flag lowered after the hook returns")
}

func TestSimulationWatchdogRequestsResync(t *testing.T) {
	sess := newDispatcherSession(core.ModeSimulation)
	strat := &scriptedStrategy{}

	// Zero threshold: any nonzero hook duration counts as blocked.
	d := NewDispatcher(sess, strat, 0, logging.NopLogger{})
	d.CallHandleBar()

	assert.True(t, sess.TakeResyncRequest())
}

func TestFailingHookStillTripsWatchdog(t *testing.T) {
	sess := newDispatcherSession(core.ModeSimulation)
	strat := &scriptedStrategy{
		onHandleBar: func(*session.Session) error { return errors.New("boom") },
	}

	// A hook can block past the threshold and then fail; the blocked time
	// still drifted the clock, so both outcomes must register.
	d := NewDispatcher(sess, strat, 0, logging.NopLogger{})
	d.CallHandleBar()

	assert.True(t, sess.TakeResyncRequest())
	assert.True(t, sess.StrategyErrorToday())
}

func TestBacktestHasNoWatchdog(t *testing.T) {
	sess := newDispatcherSession(core.ModeBacktest)
	strat := &scriptedStrategy{}

	d := NewDispatcher(sess, strat, 0, logging.NopLogger{})
	d.CallHandleBar()

	assert.False(t, sess.TakeResyncRequest())
}
