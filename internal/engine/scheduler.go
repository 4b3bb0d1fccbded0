package engine

import (
	"fmt"
	"sort"
	"time"

	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/session"
	"simtrader/internal/trading/matching"

	"github.com/shopspring/decimal"
)

// StateSaver persists the run state under a tag. Satisfied by the state serializer.
type StateSaver interface {
	Save(tag string) error
}

// Scheduler drives the event loop: it decides when each lifecycle event
// fires and delegates the work to the dispatcher and the matching engine.
//
// Backtests advance deterministically over the trading calendar; simulation
// runs a once-per-second state machine against the wall clock.
type Scheduler struct {
	sess       *session.Session
	calendar   *Calendar
	matching   *matching.Engine
	dispatcher *Dispatcher
	saver      StateSaver
	resyncFn   func()
	clock      core.IClock
	logger     core.ILogger

	cfg      *config.Config
	sessions [][2]time.Time

	beforeTradingTOD time.Time
	afterTradingTOD  time.Time
	brokerSettleTOD  time.Time

	enableIntraday   bool
	intradayInterval time.Duration

	schedulePoints []string
	customMerged   bool

	lastIntradayUpdate time.Time
	dayAnchorEquity    *decimal.Decimal
	dayAnchorBench     *decimal.Decimal
}

// NewScheduler creates a scheduler. saver may be nil when persistence is
// disabled; resyncFn is invoked when the simulation loop must re-anchor to
// the wall clock.
func NewScheduler(sess *session.Session, calendar *Calendar, me *matching.Engine,
	dispatcher *Dispatcher, saver StateSaver, resyncFn func(), clock core.IClock, logger core.ILogger) *Scheduler {

	cfg := sess.Config()
	before, _ := core.ParseDayTime(cfg.Lifecycle.Hooks.BeforeTrading)
	after, _ := core.ParseDayTime(cfg.Lifecycle.Hooks.AfterTrading)
	settle, _ := core.ParseDayTime(cfg.Lifecycle.Hooks.BrokerSettle)

	s := &Scheduler{
		sess:             sess,
		calendar:         calendar,
		matching:         me,
		dispatcher:       dispatcher,
		saver:            saver,
		resyncFn:         resyncFn,
		clock:            clock,
		logger:           logger.WithField("component", "scheduler"),
		cfg:              cfg,
		sessions:         cfg.Lifecycle.Sessions(),
		beforeTradingTOD: before,
		afterTradingTOD:  after,
		brokerSettleTOD:  settle,
		enableIntraday:   cfg.Engine.EnableIntradayStatistics,
		intradayInterval: time.Duration(cfg.Engine.IntradayUpdateMinutes) * time.Minute,
	}
	s.schedulePoints = s.buildSchedulePoints()
	return s
}

// Run starts the event loop. skipInitialize must be true when resuming from
// a saved state, so the strategy's Initialize hook does not run twice.
func (s *Scheduler) Run(skipInitialize bool) {
	if !skipInitialize {
		s.dispatcher.CallInitialize()
	}
	s.mergeCustomSchedulePoints()

	if s.sess.StartPaused() {
		s.logger.Info("Run started in paused state; resume from the monitor to continue")
		s.sess.SetPaused(true)
		s.sess.SetStartPaused(false)
		s.sess.TriggerMonitor()
		if !s.enterPauseLoop() {
			return
		}
	}

	if s.sess.Mode() == core.ModeBacktest {
		s.runBacktest(skipInitialize)
	} else {
		s.runSimulation()
	}
}

func (s *Scheduler) enterPauseLoop() bool {
	for s.sess.IsPaused() {
		if s.sess.StopRequested() {
			s.logger.Info("Stop received while paused; exiting")
			s.sess.SetRunning(false)
			s.sess.SetInterrupted(true)
			return false
		}
		s.clock.Sleep(100 * time.Millisecond)
	}
	return s.sess.IsRunning()
}

// checkAndHandleRequests services pending pause and stop requests. Returns
// false when the loop must terminate.
func (s *Scheduler) checkAndHandleRequests() bool {
	if s.sess.StopRequested() {
		s.logger.Info("Stop requested; terminating event loop")
		s.sess.SetRunning(false)
		s.sess.SetInterrupted(true)
		return false
	}

	if s.sess.TakePauseRequest() {
		s.logger.Info("Pause requested", "current_dt", s.sess.CurrentDT().Format(core.DateTimeLayout))

		if s.enableIntraday {
			s.updateIntradayStatistics(s.sess.CurrentDT(), true)
		}
		if s.saver != nil {
			if err := s.saver.Save("pause"); err != nil {
				s.logger.Error("Failed to save pause state", "error", err)
			}
		}

		s.sess.SetPaused(true)
		s.sess.TriggerMonitor()

		if !s.enterPauseLoop() {
			return false
		}
	}
	return true
}

func (s *Scheduler) runBacktest(skipInitialize bool) {
	var resumeDT time.Time
	if skipInitialize && !s.sess.CurrentDT().IsZero() {
		resumeDT = s.sess.CurrentDT()
	}

	startDate := s.sess.StartDate()
	if !resumeDT.IsZero() {
		startDate = resumeDT.Format(core.DateLayout)
		s.logger.Info("Resuming backtest",
			"date", startDate, "after", resumeDT.Format(core.TimeLayout))
	}

	tradingDays, err := s.calendar.TradingDays(startDate, s.sess.EndDate())
	if err != nil {
		s.logger.Error("Failed to load trading calendar", "error", err)
		s.dispatcher.CallOnEnd()
		return
	}
	if len(tradingDays) == 0 {
		s.logger.Warn("No trading days in the configured range")
		s.dispatcher.CallOnEnd()
		return
	}

	totalDays := len(tradingDays)
	s.logger.Info("Backtest started", "trading_days", totalDays)

dayLoop:
	for idx, dateStr := range tradingDays {
		if !s.sess.IsRunning() {
			s.logger.Info("Backtest stopped")
			break
		}

		s.logger.Info("Trading day", "date", dateStr, "progress", fmt.Sprintf("%d/%d", idx+1, totalDays))

		day, err := time.Parse(core.DateLayout, dateStr)
		if err != nil {
			s.logger.Error("Invalid calendar date", "date", dateStr, "error", err)
			continue
		}

		points := s.schedulePoints
		isResumeDay := !resumeDT.IsZero() && dateStr == resumeDT.Format(core.DateLayout)

		if isResumeDay {
			// Resuming mid-day: the pre-open flow already ran before the
			// save, so only the remaining bars execute.
			s.logger.Info("Resume day; skipping pre-open flow")
			s.loadDayAnchors()
			s.lastIntradayUpdate = resumeDT
			resumeTimeStr := resumeDT.Format(core.TimeLayout)
			var remaining []string
			for _, t := range points {
				if t > resumeTimeStr {
					remaining = append(remaining, t)
				}
			}
			points = remaining
			if len(points) > 0 {
				s.logger.Info("Resuming at bar", "time", points[0])
			} else {
				s.logger.Info("Resume time is past all bars; continuing to post-trading")
			}
		} else {
			s.lastIntradayUpdate = time.Time{}
			s.matching.ClearInfoCache()
			s.sess.ClearIntraday()
			s.dayAnchorEquity = nil
			s.dayAnchorBench = nil

			s.sess.SetCurrentDT(core.CombineDayTime(day, s.beforeTradingTOD))
			s.dispatcher.CallBeforeTrading()

			s.loadDayAnchors()

			if s.enableIntraday && len(s.sessions) > 0 {
				s.updateIntradayStatistics(core.CombineDayTime(day, s.sessions[0][0]), true)
			}

			s.sess.TriggerMonitor()
			if !s.checkAndHandleRequests() {
				break dayLoop
			}
		}

		for _, timeStr := range points {
			tod, err := core.ParseDayTime(timeStr)
			if err != nil {
				continue
			}
			barDT := core.CombineDayTime(day, tod)
			s.sess.SetCurrentDT(barDT)
			s.dispatcher.CallHandleBar()
			s.matching.MatchOrders(barDT)

			if s.enableIntraday {
				s.updateIntradayStatistics(barDT, false)
			}
			s.sess.TriggerMonitor()
			if !s.checkAndHandleRequests() {
				break
			}
		}
		if !s.sess.IsRunning() {
			break
		}

		if s.enableIntraday && len(s.sessions) > 0 {
			s.updateIntradayStatistics(core.CombineDayTime(day, s.sessions[len(s.sessions)-1][1]), true)
		}

		s.sess.SetCurrentDT(core.CombineDayTime(day, s.afterTradingTOD))
		s.dispatcher.CallAfterTrading()
		s.sess.TriggerMonitor()
		if !s.checkAndHandleRequests() {
			break
		}

		s.sess.SetCurrentDT(core.CombineDayTime(day, s.brokerSettleTOD))
		s.matching.Settle()
		s.dispatcher.CallBrokerSettle()
		s.sess.Benchmark.UpdateDaily(s.sess.CurrentDT())
		s.sess.TriggerMonitor()
		if !s.checkAndHandleRequests() {
			break
		}

		if s.cfg.State.AutoSave && s.saver != nil {
			interval := s.cfg.State.AutoSaveInterval
			if interval > 0 && (idx+1)%interval == 0 {
				tag := fmt.Sprintf("auto_save_day_%d", idx+1)
				if s.cfg.State.AutoSaveMode == "overwrite" {
					tag = "auto_save"
				}
				if err := s.saver.Save(tag); err != nil {
					s.logger.Error("Auto-save failed", "tag", tag, "error", err)
				}
			}
		}
	}

	s.dispatcher.CallOnEnd()
	s.logger.Info("Backtest finished")
}

// checkForResync services a pending resync request from the watchdog. The
// engine re-anchors the clock; the daily state machine is reset so events
// re-fire correctly for wherever time landed.
func (s *Scheduler) checkForResync() bool {
	if !s.sess.TakeResyncRequest() {
		return false
	}
	s.logger.Info("Resync requested; re-anchoring to the wall clock")
	if s.resyncFn != nil {
		s.resyncFn()
	}
	currentDT := s.sess.CurrentDT()
	s.sess.UpdateSchedulerState(func(st *session.SchedulerState) {
		st.ResetDay()
		st.LastExecutedBarTime = currentDT
		st.LastKnownDate = currentDT.Format(core.DateLayout)
		st.IsTodayTradingDay = nil
	})
	return true
}

func (s *Scheduler) runSimulation() {
	s.logger.Info("Simulation mode started; running against the wall clock")

	if rows := s.sess.Benchmark.History(); len(rows) > 0 {
		v := rows[len(rows)-1].ClosePrice
		s.dayAnchorBench = &v
	}

	for s.sess.IsRunning() {
		loopStart := s.clock.Now()
		now := s.clock.Now()
		oldPhase := s.sess.MarketPhase()

		st := s.sess.SchedulerState()
		today := now.Format(core.DateLayout)

		if today > st.LastKnownDate {
			s.sess.SetCurrentDT(now)
			isTradingDay := s.calendar.IsTradingDay(now)
			s.sess.UpdateSchedulerState(func(st *session.SchedulerState) {
				st.ResetDay()
				st.LastKnownDate = today
				st.IsTodayTradingDay = &isTradingDay
				st.LastExecutedBarTime = time.Time{}
			})
			s.sess.Orders.ClearToday()
			s.sess.ClearIntraday()
			s.lastIntradayUpdate = time.Time{}
			s.loadDayAnchors()

			if isTradingDay {
				s.logger.Info("New trading day", "date", today)
			} else {
				s.logger.Info("Not a trading day", "date", today)
			}
			s.sess.TriggerMonitor()
			st = s.sess.SchedulerState()
		}

		if st.IsTodayTradingDay == nil {
			isTradingDay := s.calendar.IsTradingDay(now)
			s.sess.UpdateSchedulerState(func(st *session.SchedulerState) {
				st.IsTodayTradingDay = &isTradingDay
			})
			st = s.sess.SchedulerState()
		}

		if *st.IsTodayTradingDay {
			s.sess.SetMarketPhase(s.classifyPhase(now, st.SettleDone))
			phase := s.sess.MarketPhase()

			if s.enableIntraday {
				if phase == core.PhaseTrading && !st.MarketOpenRecorded && len(s.sessions) > 0 {
					open := core.CombineDayTime(now, s.sessions[0][0])
					s.updateIntradayStatistics(open, true)
					s.sess.UpdateSchedulerState(func(st *session.SchedulerState) { st.MarketOpenRecorded = true })
					st = s.sess.SchedulerState()
				}
				if phase == core.PhaseAfterTrading && !st.MarketCloseRecorded && len(s.sessions) > 0 {
					close := core.CombineDayTime(now, s.sessions[len(s.sessions)-1][1])
					s.updateIntradayStatistics(close, true)
					s.sess.UpdateSchedulerState(func(st *session.SchedulerState) { st.MarketCloseRecorded = true })
					st = s.sess.SchedulerState()
				}
			}

			if phase == core.PhaseBeforeTrading && !st.BeforeTradingDone {
				s.sess.SetCurrentDT(s.clock.Now())
				s.dispatcher.CallBeforeTrading()
				s.sess.UpdateSchedulerState(func(st *session.SchedulerState) { st.BeforeTradingDone = true })
				if s.checkForResync() {
					continue
				}
				s.sess.TriggerMonitor()
				st = s.sess.SchedulerState()
			}

			if phase == core.PhaseAfterTrading && !st.AfterTradingDone {
				s.sess.SetCurrentDT(s.clock.Now())
				// The phase opens at session close, but the hook has its own
				// later trigger time.
				if timeOfDay(s.sess.CurrentDT()).Before(s.afterTradingTOD) {
					if !s.checkAndHandleRequests() {
						break
					}
					s.sleepLoop(loopStart)
					continue
				}
				s.dispatcher.CallAfterTrading()
				s.sess.UpdateSchedulerState(func(st *session.SchedulerState) { st.AfterTradingDone = true })
				if s.checkForResync() {
					continue
				}
				s.sess.TriggerMonitor()
				st = s.sess.SchedulerState()
			}

			if phase == core.PhaseSettlement && !st.SettleDone {
				s.sess.SetCurrentDT(s.clock.Now())
				s.matching.Settle()
				s.dispatcher.CallBrokerSettle()
				s.sess.Benchmark.UpdateDaily(s.sess.CurrentDT())
				s.sess.UpdateSchedulerState(func(st *session.SchedulerState) { st.SettleDone = true })
				if s.checkForResync() {
					continue
				}
				s.sess.TriggerMonitor()
				st = s.sess.SchedulerState()
			}

			if resynced := s.dispatchDueBar(now, st); resynced {
				continue
			}

			if s.sess.MarketPhase() == core.PhaseTrading && s.enableIntraday &&
				now.Sub(s.lastIntradayUpdate) >= s.intradayInterval {
				if s.updateIntradayStatistics(now, false) {
					s.sess.TriggerMonitor()
				}
			}
		} else {
			s.sess.SetMarketPhase(core.PhaseClosed)
		}

		if s.sess.MarketPhase() != oldPhase {
			s.sess.TriggerMonitor()
		}

		if !s.checkAndHandleRequests() {
			break
		}
		s.sleepLoop(loopStart)
	}

	s.dispatcher.CallOnEnd()
	s.logger.Info("Simulation finished")
}

func (s *Scheduler) sleepLoop(loopStart time.Time) {
	elapsed := s.clock.Now().Sub(loopStart)
	if d := time.Second - elapsed; d > 0 {
		s.clock.Sleep(d)
	} else {
		s.clock.Sleep(100 * time.Millisecond)
	}
}

// dispatchDueBar fires the newest schedule point at or before now, skipping
// bars that have aged past the frequency's tolerance. Reports whether the
// hook triggered a resync.
func (s *Scheduler) dispatchDueBar(now time.Time, st session.SchedulerState) bool {
	var targetStr string
	nowStr := now.Format(core.TimeLayout)
	for _, t := range s.schedulePoints {
		if t <= nowStr {
			targetStr = t
		} else {
			break
		}
	}
	if targetStr == "" {
		return false
	}

	tod, err := core.ParseDayTime(targetStr)
	if err != nil {
		return false
	}
	targetDT := core.CombineDayTime(now, tod)

	if !st.LastExecutedBarTime.IsZero() && !targetDT.After(st.LastExecutedBarTime) {
		return false
	}

	var tolerance time.Duration
	switch s.sess.Frequency() {
	case core.FrequencyDaily:
		tolerance = 24 * time.Hour
	case core.FrequencyMinute:
		tolerance = 60 * time.Second
	default:
		tolerance = time.Duration(s.cfg.Engine.TickIntervalSeconds) * time.Second
	}

	resynced := false
	if now.Sub(targetDT) <= tolerance {
		eventDT := s.clock.Now()
		s.sess.SetCurrentDT(eventDT)
		s.dispatcher.CallHandleBar()
		s.matching.MatchOrders(eventDT)

		resynced = s.checkForResync()
		if !resynced {
			s.sess.TriggerMonitor()
		}
	} else {
		s.logger.Warn("Skipping expired bar", "bar", targetStr, "now", nowStr)
	}

	// Recorded whether executed or skipped, so the bar is not reconsidered.
	if !resynced {
		s.sess.UpdateSchedulerState(func(st *session.SchedulerState) {
			st.LastExecutedBarTime = targetDT
		})
	}
	return resynced
}

// classifyPhase maps a wall-clock instant on a trading day to a market phase.
func (s *Scheduler) classifyPhase(now time.Time, settleDone bool) core.MarketPhase {
	tod := timeOfDay(now)
	if withinSessions(now, s.sessions) {
		return core.PhaseTrading
	}
	if len(s.sessions) > 0 {
		if !tod.Before(s.beforeTradingTOD) && tod.Before(s.sessions[0][0]) {
			return core.PhaseBeforeTrading
		}
		if tod.After(s.sessions[len(s.sessions)-1][1]) && tod.Before(s.brokerSettleTOD) {
			return core.PhaseAfterTrading
		}
	}
	if !tod.Before(s.brokerSettleTOD) && !settleDone {
		return core.PhaseSettlement
	}
	return core.PhaseClosed
}

// loadDayAnchors pins the start-of-day reference values intraday returns are
// measured against, from the latest settled history rows.
func (s *Scheduler) loadDayAnchors() {
	if rows := s.sess.Portfolio.History(); len(rows) > 0 {
		v := rows[len(rows)-1].NetWorth
		s.dayAnchorEquity = &v
	}
	if rows := s.sess.Benchmark.History(); len(rows) > 0 {
		v := rows[len(rows)-1].ClosePrice
		s.dayAnchorBench = &v
	}
}

// buildSchedulePoints expands the configured frequency into the list of
// intraday bar times.
func (s *Scheduler) buildSchedulePoints() []string {
	if s.sess.Frequency() == core.FrequencyDaily {
		return []string{s.cfg.Lifecycle.Hooks.HandleBar}
	}

	step := time.Minute
	if s.sess.Frequency() == core.FrequencyTick {
		step = time.Duration(s.cfg.Engine.TickIntervalSeconds) * time.Second
	}

	seen := make(map[string]struct{})
	for _, sess := range s.sessions {
		for t := sess[0]; !t.After(sess[1]); t = t.Add(step) {
			seen[t.Format(core.TimeLayout)] = struct{}{}
		}
	}
	points := make([]string, 0, len(seen))
	for t := range seen {
		points = append(points, t)
	}
	sort.Strings(points)
	return points
}

// mergeCustomSchedulePoints folds strategy-registered bar times into the
// schedule. Runs once per scheduler.
func (s *Scheduler) mergeCustomSchedulePoints() {
	if s.customMerged {
		return
	}
	s.customMerged = true

	custom := s.sess.CustomSchedulePoints()
	if len(custom) == 0 {
		return
	}
	s.logger.Info("Merging custom schedule points", "count", len(custom))

	seen := make(map[string]struct{}, len(s.schedulePoints)+len(custom))
	for _, t := range s.schedulePoints {
		seen[t] = struct{}{}
	}
	for _, t := range custom {
		seen[t] = struct{}{}
	}
	if len(seen) > len(s.schedulePoints) {
		merged := make([]string, 0, len(seen))
		for t := range seen {
			merged = append(merged, t)
		}
		sort.Strings(merged)
		s.logger.Info("Schedule points expanded",
			"before", len(s.schedulePoints), "after", len(merged))
		s.schedulePoints = merged
	}
}

// updateIntradayStatistics samples the account and benchmark values at dt.
// Returns true when a sample was recorded.
func (s *Scheduler) updateIntradayStatistics(dt time.Time, force bool) bool {
	// Live runs only sample inside trading sessions.
	if s.sess.Mode() == core.ModeSimulation && !withinSessions(dt, s.sessions) {
		return false
	}

	if !force && dt.Sub(s.lastIntradayUpdate) < s.intradayInterval {
		return false
	}
	s.lastIntradayUpdate = dt

	for _, pos := range s.sess.Positions.All() {
		price, err := s.sess.Provider.GetCurrentPrice(pos.Symbol, dt)
		if err == nil && price != nil {
			pos.UpdatePrice(price.CurrentPrice)
		}
	}
	s.sess.Portfolio.UpdateFinancials(s.sess.Positions)
	netWorth := s.sess.Portfolio.NetWorth()

	s.sess.AppendIntradayEquity(core.IntradayPoint{
		Time:  dt.Format(core.TimeLayout),
		Value: netWorth,
	})

	benchSymbol := s.sess.Benchmark.Symbol()
	if benchSymbol != "" && s.dayAnchorBench != nil && s.dayAnchorEquity != nil && s.dayAnchorBench.IsPositive() {
		price, err := s.sess.Provider.GetCurrentPrice(benchSymbol, dt)
		if err == nil && price != nil {
			value := s.dayAnchorEquity.Mul(price.CurrentPrice.Div(*s.dayAnchorBench))
			s.sess.AppendIntradayBenchmark(core.IntradayPoint{
				Time:  dt.Format(core.TimeLayout),
				Value: value,
			})
		}
	}
	return true
}
