// Package engine wires the framework together and drives the run lifecycle:
// fresh runs, resumes from a paused state, and forked timelines.
package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"simtrader/internal/alert"
	"simtrader/internal/benchmark"
	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/session"
	"simtrader/internal/state"
	"simtrader/internal/trading/cost"
	"simtrader/internal/trading/matching"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/portfolio"
	"simtrader/internal/trading/position"

	"github.com/shopspring/decimal"
)

// Monitor is the optional live state publisher attached to a run.
type Monitor interface {
	Start() error
	Stop()
	TriggerUpdate()
}

// Notifier pushes run lifecycle notifications to external channels.
// Satisfied by the alert notifier.
type Notifier interface {
	Notify(title, message string, level alert.Level, fields map[string]string)
	Wait()
}

// Engine assembles all components around a session and runs the scheduler.
type Engine struct {
	cfg      *config.Config
	sess     *session.Session
	provider core.IDataProvider
	clock    core.IClock
	logger   core.ILogger

	calendar   *Calendar
	matching   *matching.Engine
	dispatcher *Dispatcher
	scheduler  *Scheduler
	serializer *state.Serializer
	store      core.IStateStore
	monitor    Monitor
	notifier   Notifier

	beforeTradingTOD time.Time
	afterTradingTOD  time.Time
	brokerSettleTOD  time.Time
}

// New builds a fully wired engine for the given strategy and data provider.
func New(cfg *config.Config, provider core.IDataProvider, strategy session.Strategy,
	store core.IStateStore, clock core.IClock, logger core.ILogger) *Engine {

	sess := session.New(cfg, logger)
	sess.Provider = provider
	sess.Portfolio = portfolio.New(decimal.NewFromFloat(cfg.Account.InitialCash), logger)
	sess.Orders = order.NewManager(cfg.Account.OrderLotSize, clock, sess, logger)
	sess.Positions = position.NewManager(cfg.Account.ShortMarginRate, cfg.Account.TradingRule, sess, logger)
	sess.Benchmark = benchmark.NewTracker(cfg.Benchmark.Symbol, cfg.Benchmark.Name, provider, logger)

	me := matching.NewEngine(matching.Deps{
		Orders:          sess.Orders,
		Positions:       sess.Positions,
		Portfolio:       sess.Portfolio,
		Provider:        provider,
		Commission:      cost.NewCommissionModel(cfg.Matching.Commission),
		Slippage:        cost.NewSlippageModel(cfg.Matching.Slippage),
		TradingMode:     cfg.Account.TradingMode,
		TradingRule:     cfg.Account.TradingRule,
		ShortMarginRate: cfg.Account.ShortMarginRate,
		TimeSource:      sess,
		Logger:          logger,
	})

	e := &Engine{
		cfg:        cfg,
		sess:       sess,
		provider:   provider,
		clock:      clock,
		logger:     logger.WithField("component", "engine"),
		calendar:   NewCalendar(provider, cfg, clock),
		matching:   me,
		dispatcher: NewDispatcher(sess, strategy, cfg.Engine.BlockThresholdSeconds, logger),
		store:      store,
	}
	e.beforeTradingTOD, _ = core.ParseDayTime(cfg.Lifecycle.Hooks.BeforeTrading)
	e.afterTradingTOD, _ = core.ParseDayTime(cfg.Lifecycle.Hooks.AfterTrading)
	e.brokerSettleTOD, _ = core.ParseDayTime(cfg.Lifecycle.Hooks.BrokerSettle)

	e.serializer = state.NewSerializer(sess, store, clock, logger)
	e.scheduler = NewScheduler(sess, e.calendar, me, e.dispatcher, e.serializer,
		func() { e.synchronizeToRealtime(false) }, clock, logger)
	return e
}

// Session exposes the run's shared context, mainly for the monitor and tests.
func (e *Engine) Session() *session.Session { return e.sess }

// SetMonitor attaches a live monitor and hooks it into the session.
func (e *Engine) SetMonitor(m Monitor) {
	e.monitor = m
	e.sess.SetMonitorHook(m.TriggerUpdate)
}

// SetNotifier attaches an alert notifier for run lifecycle events.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Run starts a fresh run.
func (e *Engine) Run(startPaused bool) error {
	if e.sess.Mode() == core.ModeSimulation {
		e.sess.SetStartDate(e.clock.Now().Format(core.DateLayout))
	}

	e.sess.Benchmark.Initialize(e.sess.StartDate(), e.sess.Portfolio.InitialCash())
	if err := e.initializeHistory(); err != nil {
		return err
	}

	if startPaused {
		e.sess.SetStartPaused(true)
	}

	if e.sess.Mode() == core.ModeSimulation {
		// Initialize is invoked inside the synchronization step, so the
		// scheduler must not call it again.
		e.synchronizeToRealtime(true)
		e.executeMainLoop(true)
		return nil
	}
	e.executeMainLoop(false)
	return nil
}

// Resume continues a run from a paused state blob.
func (e *Engine) Resume(tag string, startPaused bool) error {
	if err := e.serializer.Restore(tag); err != nil {
		return err
	}
	if startPaused {
		e.sess.SetStartPaused(true)
	}
	if e.sess.Mode() == core.ModeSimulation {
		e.synchronizeToRealtime(false)
	}
	e.executeMainLoop(true)
	return nil
}

// Fork branches a new timeline from a paused state blob: history before the
// fork date is kept, everything from that date on is replayed fresh.
func (e *Engine) Fork(tag string, reinitialize, startPaused bool) error {
	forkDate, err := e.serializer.Fork(tag, reinitialize)
	if err != nil {
		return err
	}
	e.logger.Info("Fork prepared", "fork_date", forkDate, "reinitialize", reinitialize)

	if startPaused {
		e.sess.SetStartPaused(true)
	}
	if e.sess.Mode() == core.ModeSimulation {
		e.synchronizeToRealtime(false)
		e.executeMainLoop(true)
		return nil
	}
	e.executeMainLoop(!reinitialize)
	return nil
}

// Pause requests a pause at the next safe point.
func (e *Engine) Pause() {
	if e.sess.IsRunning() && !e.sess.IsPaused() {
		e.logger.Info("Pause requested; pausing after the current event")
		e.sess.RequestPause()
	}
}

// ResumeRunning releases a pause.
func (e *Engine) ResumeRunning() {
	if e.sess.IsRunning() && e.sess.IsPaused() {
		e.sess.SetPaused(false)
		e.logger.Info("Run resumed")
	}
}

// Stop requests a graceful stop.
func (e *Engine) Stop() {
	if e.sess.IsRunning() {
		e.logger.Info("Stop requested; exiting after the current event")
		e.sess.RequestStop()
		if e.sess.IsPaused() {
			e.sess.SetRunning(false)
		}
	}
}

func (e *Engine) executeMainLoop(skipInitialize bool) {
	e.sess.SetRunning(true)
	defer e.finalize()

	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Run aborted by panic", "panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
				e.sess.SetInterrupted(true)
			}
		}()
		e.scheduler.Run(skipInitialize)
	}()
}

func (e *Engine) finalize() {
	e.sess.SetRunning(false)

	// An interrupted loop never reached the scheduler's own OnEnd call.
	if e.sess.WasInterrupted() {
		e.dispatcher.CallOnEnd()
	}

	tag := "final"
	if e.sess.WasInterrupted() {
		tag = "interrupt"
	}
	if err := e.serializer.Save(tag); err != nil {
		e.logger.Error("Failed to save final state", "tag", tag, "error", err)
	}

	if e.monitor != nil {
		e.monitor.TriggerUpdate()
		e.monitor.Stop()
	}

	if e.notifier != nil {
		title, level := "Run finished", alert.Info
		if e.sess.WasInterrupted() {
			title, level = "Run interrupted", alert.Warning
		}
		e.notifier.Notify(title,
			fmt.Sprintf("Final state saved under tag %q", tag), level,
			map[string]string{
				"strategy":  e.sess.StrategyName(),
				"mode":      string(e.sess.Mode()),
				"net_worth": e.sess.Portfolio.NetWorth().StringFixed(2),
				"returns":   e.sess.Portfolio.Returns().StringFixed(4),
			})
		e.notifier.Wait()
	}
	e.logger.Info("Engine finished", "final_state_tag", tag)
}

// initializeHistory seeds the equity and benchmark curves with a day-zero
// point, so the first trading day's return has a baseline.
func (e *Engine) initializeHistory() error {
	initialCash := e.sess.Portfolio.InitialCash()

	var dayBefore string
	if e.sess.Mode() == core.ModeSimulation {
		dayBefore = e.clock.Now().AddDate(0, 0, -1).Format(core.DateLayout)
	} else {
		days, err := e.calendar.TradingDays(e.sess.StartDate(), e.sess.EndDate())
		if err != nil {
			return err
		}
		if len(days) == 0 {
			return nil
		}
		first, err := time.Parse(core.DateLayout, days[0])
		if err != nil {
			return err
		}
		dayBefore = first.AddDate(0, 0, -1).Format(core.DateLayout)
	}

	e.sess.Portfolio.AppendHistory(portfolio.HistoryRow{
		Date:          dayBefore,
		NetWorth:      initialCash,
		TotalAssets:   initialCash,
		Cash:          initialCash,
		AvailableCash: initialCash,
	})

	if e.sess.Benchmark.Enabled() {
		e.sess.Benchmark.AppendHistory(benchmark.Row{
			Date:       dayBefore,
			ClosePrice: e.sess.Benchmark.InitialValue(),
			Value:      initialCash,
		})
	}
	e.logger.Debug("Seeded day-zero history point", "date", dayBefore)
	return nil
}

// synchronizeToRealtime fast-forwards the account to the wall clock: expired
// orders are dropped, missed trading days are settled one by one, and the
// market phase is re-derived for wherever time landed. Strategy hooks other
// than Initialize never fire during the catch-up.
func (e *Engine) synchronizeToRealtime(isNewRun bool) {
	e.logger.Info("Synchronizing to the wall clock")

	var lastSync time.Time
	if isNewRun {
		e.sess.SetCurrentDT(e.clock.Now())
		e.logger.Info("Fresh simulation; calling strategy Initialize")
		e.dispatcher.CallInitialize()
		lastSync = e.sess.CurrentDT()
	} else {
		lastSync = e.sess.CurrentDT()
	}

	now := e.clock.Now()
	e.logger.Info("Synchronization window",
		"from", lastSync.Format(core.DateTimeLayout), "to", now.Format(core.DateTimeLayout))

	if !isNewRun {
		e.logger.Info("Expiring stale open orders")
		for _, o := range e.sess.Orders.OpenOrders() {
			o.Expire()
		}
		e.sess.Orders.ClearToday()
	}
	e.sess.ClearIntraday()

	missed, err := e.calendar.TradingDays(
		lastSync.AddDate(0, 0, 1).Format(core.DateLayout),
		now.AddDate(0, 0, -1).Format(core.DateLayout))
	if err != nil {
		e.logger.Error("Failed to list missed trading days", "error", err)
	}
	if len(missed) > 0 {
		e.logger.Info("Settling missed trading days", "count", len(missed))
		for _, dayStr := range missed {
			day, err := time.Parse(core.DateLayout, dayStr)
			if err != nil {
				continue
			}
			settleDT := core.CombineDayTime(day, e.brokerSettleTOD)
			e.sess.SetCurrentDT(settleDT)
			e.matching.Settle()
			e.sess.Benchmark.UpdateDaily(settleDT)
		}
	}

	e.sess.SetCurrentDT(now)
	e.logger.Info("Synchronized", "current_dt", now.Format(core.DateTimeLayout))

	if e.calendar.IsTradingDay(now) {
		tod := timeOfDay(now)
		switch {
		case tod.Before(e.beforeTradingTOD):
			e.sess.SetMarketPhase(core.PhaseBeforeTrading)
		case tod.Before(e.afterTradingTOD):
			e.sess.SetMarketPhase(core.PhaseTrading)
		default:
			e.sess.SetMarketPhase(core.PhaseAfterTrading)
		}
	} else {
		e.sess.SetMarketPhase(core.PhaseClosed)
	}
	e.logger.Info("Market phase determined", "phase", string(e.sess.MarketPhase()))
}
