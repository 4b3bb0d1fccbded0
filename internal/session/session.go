// Package session provides the shared context threaded through every
// strategy hook: time, account, orders, positions, benchmark and run flags.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"simtrader/internal/benchmark"
	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/portfolio"
	"simtrader/internal/trading/position"
	apperrors "simtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// SchedulerState is the simulation scheduler's per-day state machine. It is
// persisted so a resumed run does not replay daily events.
type SchedulerState struct {
	BeforeTradingDone   bool `json:"before_trading_done"`
	AfterTradingDone    bool `json:"after_trading_done"`
	SettleDone          bool `json:"settle_done"`
	MarketOpenRecorded  bool `json:"market_open_recorded"`
	MarketCloseRecorded bool `json:"market_close_recorded"`

	LastKnownDate       string    `json:"last_known_date"`
	LastExecutedBarTime time.Time `json:"last_executed_bar_time"`

	// Nil means not yet determined for the current date.
	IsTodayTradingDay *bool `json:"is_today_trading_day,omitempty"`
}

// ResetDay clears the per-day flags and the trading-day determination.
func (s *SchedulerState) ResetDay() {
	s.BeforeTradingDone = false
	s.AfterTradingDone = false
	s.SettleDone = false
	s.MarketOpenRecorded = false
	s.MarketCloseRecorded = false
	s.IsTodayTradingDay = nil
}

// InitialPosition describes one holding passed to SetInitialState or
// AlignAccountState. A positive quantity is long, a negative one short.
type InitialPosition struct {
	Symbol     string
	Quantity   int64
	AvgCost    *decimal.Decimal
	SymbolName string
}

// Session is the central bus shared by the engine, the scheduler, the
// matching engine and the strategy.
type Session struct {
	mu sync.RWMutex

	mode         core.Mode
	strategyName string
	startDate    string
	endDate      string
	frequency    core.Frequency

	currentDT   time.Time
	marketPhase core.MarketPhase

	cfg *config.Config

	Portfolio *portfolio.Portfolio
	Orders    *order.Manager
	Positions *position.Manager
	Benchmark *benchmark.Tracker
	Provider  core.IDataProvider
	Logger    core.ILogger

	userData             map[string]any
	customSchedulePoints []string
	initialStateSet      bool

	intradayEquity    []core.IntradayPoint
	intradayBenchmark []core.IntradayPoint

	schedulerState SchedulerState

	isRunning      atomic.Bool
	isPaused       atomic.Bool
	isInitializing atomic.Bool
	startPaused    atomic.Bool
	wasInterrupted atomic.Bool

	pauseRequested     atomic.Bool
	stopRequested      atomic.Bool
	resyncRequested    atomic.Bool
	strategyErrorToday atomic.Bool

	monitorHook atomic.Value // func()
}

// New creates a session configured from cfg.
func New(cfg *config.Config, logger core.ILogger) *Session {
	return &Session{
		mode:         cfg.Engine.Mode,
		strategyName: cfg.Engine.StrategyName,
		startDate:    cfg.Engine.StartDate,
		endDate:      cfg.Engine.EndDate,
		frequency:    cfg.Engine.Frequency,
		marketPhase:  core.PhaseClosed,
		cfg:          cfg,
		Logger:       logger,
		userData:     make(map[string]any),
	}
}

// Config returns the run configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Mode returns the run mode. Part of core.ITimeSource.
func (s *Session) Mode() core.Mode { return s.mode }

// StrategyName returns the configured strategy name.
func (s *Session) StrategyName() string { return s.strategyName }

// Frequency returns the bar frequency.
func (s *Session) Frequency() core.Frequency { return s.frequency }

// StartDate returns the run's first trading date.
func (s *Session) StartDate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startDate
}

// EndDate returns the run's last trading date, empty in simulation mode.
func (s *Session) EndDate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endDate
}

// SetStartDate rebases the run's first trading date. Used by fork.
func (s *Session) SetStartDate(date string) {
	s.mu.Lock()
	s.startDate = date
	s.mu.Unlock()
}

// CurrentDT returns the simulated clock. Part of core.ITimeSource.
func (s *Session) CurrentDT() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDT
}

// SetCurrentDT advances the simulated clock.
func (s *Session) SetCurrentDT(dt time.Time) {
	s.mu.Lock()
	s.currentDT = dt
	s.mu.Unlock()
}

// MarketPhase returns the current market phase.
func (s *Session) MarketPhase() core.MarketPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketPhase
}

// SetMarketPhase updates the market phase. Called by the scheduler.
func (s *Session) SetMarketPhase(p core.MarketPhase) {
	s.mu.Lock()
	s.marketPhase = p
	s.mu.Unlock()
}

// AddSchedule registers an extra intraday bar time ("HH:MM:SS"). Only legal
// inside the strategy's Initialize hook.
func (s *Session) AddSchedule(timeStr string) error {
	if !s.isInitializing.Load() {
		return apperrors.ErrNotInitializing
	}
	if _, err := core.ParseDayTime(timeStr); err != nil {
		return fmt.Errorf("schedule point %q: %w", timeStr, apperrors.ErrInvalidTimePoint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.customSchedulePoints {
		if p == timeStr {
			return nil
		}
	}
	s.customSchedulePoints = append(s.customSchedulePoints, timeStr)
	s.Logger.Info("Custom schedule point added", "time", timeStr)
	return nil
}

// CustomSchedulePoints returns the registered extra bar times.
func (s *Session) CustomSchedulePoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.customSchedulePoints))
	copy(out, s.customSchedulePoints)
	return out
}

// RestoreCustomSchedulePoints replaces the registered bar times.
func (s *Session) RestoreCustomSchedulePoints(points []string) {
	s.mu.Lock()
	s.customSchedulePoints = points
	s.mu.Unlock()
}

// Set stores a value in the strategy's scratch space.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.userData[key] = value
	s.mu.Unlock()
}

// Get reads a value from the strategy's scratch space.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.userData[key]
	return v, ok
}

// UserData returns the scratch space map for persistence.
func (s *Session) UserData() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.userData))
	for k, v := range s.userData {
		out[k] = v
	}
	return out
}

// RestoreUserData replaces the scratch space.
func (s *Session) RestoreUserData(data map[string]any) {
	s.mu.Lock()
	if data == nil {
		data = make(map[string]any)
	}
	s.userData = data
	s.mu.Unlock()
}

// ClearUserData wipes the scratch space. Used by fork with reinitialize.
func (s *Session) ClearUserData() {
	s.mu.Lock()
	s.userData = make(map[string]any)
	s.customSchedulePoints = nil
	s.mu.Unlock()
}

// SetInitialState seeds the account with cash and holdings. Only legal inside
// Initialize, and only once. Missing costs and names are fetched from the
// data provider. The initial capital is rebased to the resulting net worth.
func (s *Session) SetInitialState(cash decimal.Decimal, positions []InitialPosition) error {
	if !s.isInitializing.Load() {
		return apperrors.ErrNotInitializing
	}

	s.mu.Lock()
	if s.initialStateSet {
		s.mu.Unlock()
		return apperrors.ErrInitialStateSet
	}
	s.initialStateSet = true
	currentDT := s.currentDT
	s.mu.Unlock()

	s.Portfolio.SetCash(cash)

	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		direction := position.Long
		qty := p.Quantity
		if qty < 0 {
			direction = position.Short
			qty = -qty
		}

		avgCost := p.AvgCost
		if avgCost == nil {
			price, err := s.Provider.GetCurrentPrice(p.Symbol, currentDT)
			if err != nil || price == nil {
				return fmt.Errorf("no price for %s to use as default cost", p.Symbol)
			}
			avgCost = &price.CurrentPrice
		}

		symbolName := p.SymbolName
		if symbolName == "" {
			info, err := s.Provider.GetSymbolInfo(p.Symbol, currentDT.Format(core.DateLayout))
			if err == nil && info != nil && info.SymbolName != "" {
				symbolName = info.SymbolName
			} else {
				symbolName = p.Symbol
			}
		}

		s.Positions.Adjust(p.Symbol, qty, *avgCost, symbolName, direction)
	}

	s.Portfolio.UpdateFinancials(s.Positions)
	s.Portfolio.SetInitialCash(s.Portfolio.NetWorth())

	s.Logger.Info("Initial account state set",
		"cash", s.Portfolio.Cash().StringFixed(2),
		"positions", len(s.Positions.All()),
		"net_worth", s.Portfolio.NetWorth().StringFixed(2),
		"available_cash", s.Portfolio.AvailableCash().StringFixed(2),
		"margin", s.Portfolio.Margin().StringFixed(2))
	return nil
}

// AlignAccountState overwrites cash and holdings with an externally observed
// snapshot. Forbidden during the trading phase.
func (s *Session) AlignAccountState(cash decimal.Decimal, positions []InitialPosition) error {
	if s.MarketPhase() == core.PhaseTrading {
		return apperrors.ErrAlignWhileTrading
	}

	originalCash := s.Portfolio.Cash()
	s.Portfolio.SetCash(cash)

	type target struct {
		qty        int64
		avgCost    *decimal.Decimal
		symbolName string
	}
	targets := make(map[string]target)
	dirOf := func(qty int64) position.Direction {
		if qty > 0 {
			return position.Long
		}
		return position.Short
	}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		k := p.Symbol + "::" + string(dirOf(p.Quantity))
		targets[k] = target{qty: p.Quantity, avgCost: p.AvgCost, symbolName: p.SymbolName}
	}

	for _, pos := range s.Positions.All() {
		k := pos.Symbol + "::" + string(pos.Direction)
		if _, ok := targets[k]; !ok {
			s.Positions.Adjust(pos.Symbol, 0, decimal.Zero, "", pos.Direction)
		}
	}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		direction := dirOf(p.Quantity)
		qty := p.Quantity
		if qty < 0 {
			qty = -qty
		}
		avgCost := decimal.Zero
		if p.AvgCost != nil {
			avgCost = *p.AvgCost
		}
		s.Positions.Adjust(p.Symbol, qty, avgCost, p.SymbolName, direction)
	}

	s.Portfolio.UpdateFinancials(s.Positions)

	s.Logger.Info("Account state aligned",
		"cash_before", originalCash.StringFixed(2),
		"cash_after", s.Portfolio.Cash().StringFixed(2),
		"positions", len(s.Positions.All()),
		"net_worth", s.Portfolio.NetWorth().StringFixed(2))
	return nil
}

// InitialStateSet reports whether SetInitialState has run.
func (s *Session) InitialStateSet() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialStateSet
}

// Run flag accessors.

func (s *Session) IsRunning() bool       { return s.isRunning.Load() }
func (s *Session) SetRunning(v bool)     { s.isRunning.Store(v) }
func (s *Session) IsPaused() bool        { return s.isPaused.Load() }
func (s *Session) SetPaused(v bool)      { s.isPaused.Store(v) }
func (s *Session) StartPaused() bool     { return s.startPaused.Load() }
func (s *Session) SetStartPaused(v bool) { s.startPaused.Store(v) }

func (s *Session) IsInitializing() bool   { return s.isInitializing.Load() }
func (s *Session) SetInitializing(v bool) { s.isInitializing.Store(v) }

func (s *Session) WasInterrupted() bool  { return s.wasInterrupted.Load() }
func (s *Session) SetInterrupted(v bool) { s.wasInterrupted.Store(v) }

// RequestPause asks the scheduler to pause at the next safe point.
func (s *Session) RequestPause() { s.pauseRequested.Store(true) }

// TakePauseRequest consumes a pending pause request.
func (s *Session) TakePauseRequest() bool { return s.pauseRequested.Swap(false) }

// RequestStop asks the scheduler to stop.
func (s *Session) RequestStop() { s.stopRequested.Store(true) }

// StopRequested reports a pending stop request.
func (s *Session) StopRequested() bool { return s.stopRequested.Load() }

// RequestResync asks the simulation loop to re-synchronize to the wall clock.
func (s *Session) RequestResync() { s.resyncRequested.Store(true) }

// TakeResyncRequest consumes a pending resync request.
func (s *Session) TakeResyncRequest() bool { return s.resyncRequested.Swap(false) }

// MarkStrategyError flags that a hook failed today.
func (s *Session) MarkStrategyError() { s.strategyErrorToday.Store(true) }

// ClearStrategyError resets the daily error flag.
func (s *Session) ClearStrategyError() { s.strategyErrorToday.Store(false) }

// StrategyErrorToday reports whether a hook failed today.
func (s *Session) StrategyErrorToday() bool { return s.strategyErrorToday.Load() }

// SchedulerState returns a copy of the simulation state machine.
func (s *Session) SchedulerState() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedulerState
}

// UpdateSchedulerState mutates the simulation state machine under the lock.
func (s *Session) UpdateSchedulerState(fn func(*SchedulerState)) {
	s.mu.Lock()
	fn(&s.schedulerState)
	s.mu.Unlock()
}

// RestoreSchedulerState replaces the state machine wholesale.
func (s *Session) RestoreSchedulerState(st SchedulerState) {
	s.mu.Lock()
	s.schedulerState = st
	s.mu.Unlock()
}

// Intraday history.

// AppendIntradayEquity records an intraday account return sample.
func (s *Session) AppendIntradayEquity(p core.IntradayPoint) {
	s.mu.Lock()
	s.intradayEquity = append(s.intradayEquity, p)
	s.mu.Unlock()
}

// AppendIntradayBenchmark records an intraday benchmark return sample.
func (s *Session) AppendIntradayBenchmark(p core.IntradayPoint) {
	s.mu.Lock()
	s.intradayBenchmark = append(s.intradayBenchmark, p)
	s.mu.Unlock()
}

// IntradayEquity returns a copy of today's account samples.
func (s *Session) IntradayEquity() []core.IntradayPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.IntradayPoint, len(s.intradayEquity))
	copy(out, s.intradayEquity)
	return out
}

// IntradayBenchmark returns a copy of today's benchmark samples.
func (s *Session) IntradayBenchmark() []core.IntradayPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.IntradayPoint, len(s.intradayBenchmark))
	copy(out, s.intradayBenchmark)
	return out
}

// RestoreIntraday replaces both intraday histories.
func (s *Session) RestoreIntraday(equity, bench []core.IntradayPoint) {
	s.mu.Lock()
	s.intradayEquity = equity
	s.intradayBenchmark = bench
	s.mu.Unlock()
}

// ClearIntraday wipes the intraday histories at the start of a new day.
func (s *Session) ClearIntraday() {
	s.mu.Lock()
	s.intradayEquity = nil
	s.intradayBenchmark = nil
	s.mu.Unlock()
}

// SetMonitorHook installs the callback that pushes state to the monitor.
func (s *Session) SetMonitorHook(fn func()) {
	s.monitorHook.Store(fn)
}

// TriggerMonitor invokes the monitor hook when installed.
func (s *Session) TriggerMonitor() {
	if fn, ok := s.monitorHook.Load().(func()); ok && fn != nil {
		fn()
	}
}
