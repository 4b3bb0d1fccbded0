package state

import (
	"encoding/json"
	"fmt"
	"time"

	"simtrader/internal/benchmark"
	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/session"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/portfolio"
	"simtrader/internal/trading/position"
	apperrors "simtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// frequencyOptions captures the cadence parameters active at save time so a
// resume can detect a mismatched configuration.
type frequencyOptions struct {
	TickIntervalSeconds   int `json:"tick_interval_seconds"`
	IntradayUpdateMinutes int `json:"intraday_update_minutes"`
}

// contextBlob is the serialized run context.
type contextBlob struct {
	Mode                 core.Mode               `json:"mode"`
	StrategyName         string                  `json:"strategy_name"`
	StartDate            string                  `json:"start_date"`
	EndDate              string                  `json:"end_date"`
	CurrentDT            time.Time               `json:"current_dt"`
	Frequency            core.Frequency          `json:"frequency"`
	FrequencyOptions     frequencyOptions        `json:"frequency_options"`
	Config               *config.Config          `json:"config,omitempty"`
	IntradayEquity       []core.IntradayPoint    `json:"intraday_equity_history"`
	IntradayBenchmark    []core.IntradayPoint    `json:"intraday_benchmark_history"`
	WasInterrupted       bool                    `json:"was_interrupted"`
	IsRunning            bool                    `json:"is_running"`
	SchedulerState       session.SchedulerState  `json:"scheduler_state_machine"`
	CustomSchedulePoints []string                `json:"custom_schedule_points"`
}

// Blob is the complete persisted run state.
type Blob struct {
	Context           contextBlob             `json:"context"`
	Portfolio         portfolio.State         `json:"portfolio"`
	Positions         []*position.Position    `json:"positions"`
	PositionSnapshots []position.DaySnapshot  `json:"position_snapshots"`
	Orders            []*order.Order          `json:"orders"`
	Benchmark         benchmark.State         `json:"benchmark"`
	UserData          map[string]any          `json:"user_data"`
	Timestamp         time.Time               `json:"timestamp"`
}

// Serializer converts the live session to and from tagged store blobs.
type Serializer struct {
	sess   *session.Session
	store  core.IStateStore
	clock  core.IClock
	logger core.ILogger

	brokerSettleTOD time.Time
}

// NewSerializer creates a serializer bound to the session and store.
func NewSerializer(sess *session.Session, store core.IStateStore, clock core.IClock, logger core.ILogger) *Serializer {
	settle, _ := core.ParseDayTime(sess.Config().Lifecycle.Hooks.BrokerSettle)
	return &Serializer{
		sess:            sess,
		store:           store,
		clock:           clock,
		logger:          logger.WithField("component", "state"),
		brokerSettleTOD: settle,
	}
}

// Save persists the complete run state under tag. An empty tag defaults to
// the current simulated date.
func (s *Serializer) Save(tag string) error {
	currentDT := s.sess.CurrentDT()
	if tag == "" {
		tag = currentDT.Format("20060102")
	}

	snapshots := s.sess.Positions.Snapshots()
	// A mid-day save captures a synthetic snapshot of today's live book, so
	// the blob reflects positions as of the save, not yesterday's close.
	if !currentDT.IsZero() && s.beforeSettle(currentDT) {
		if live := s.liveSnapshot(currentDT); len(live.Positions) > 0 {
			kept := snapshots[:0]
			for _, snap := range snapshots {
				if snap.Date != live.Date {
					kept = append(kept, snap)
				}
			}
			snapshots = append(kept, live)
		}
	}

	blob := Blob{
		Context: contextBlob{
			Mode:                 s.sess.Mode(),
			StrategyName:         s.sess.StrategyName(),
			StartDate:            s.sess.StartDate(),
			EndDate:              s.sess.EndDate(),
			CurrentDT:            currentDT,
			Frequency:            s.sess.Frequency(),
			FrequencyOptions: frequencyOptions{
				TickIntervalSeconds:   s.sess.Config().Engine.TickIntervalSeconds,
				IntradayUpdateMinutes: s.sess.Config().Engine.IntradayUpdateMinutes,
			},
			Config:               s.sess.Config(),
			IntradayEquity:       s.sess.IntradayEquity(),
			IntradayBenchmark:    s.sess.IntradayBenchmark(),
			WasInterrupted:       s.sess.WasInterrupted(),
			IsRunning:            s.sess.IsRunning(),
			SchedulerState:       s.sess.SchedulerState(),
			CustomSchedulePoints: s.sess.CustomSchedulePoints(),
		},
		Portfolio:         s.sess.Portfolio.Snapshot(),
		Positions:         s.sess.Positions.All(),
		PositionSnapshots: snapshots,
		Orders:            s.sess.Orders.AllOrders(),
		Benchmark:         s.sess.Benchmark.Snapshot(),
		UserData:          s.sess.UserData(),
		Timestamp:         s.clock.Now(),
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.store.Save(tag, data); err != nil {
		return err
	}
	s.logger.Info("State saved", "tag", tag)
	return nil
}

func (s *Serializer) beforeSettle(dt time.Time) bool {
	tod, _ := core.ParseDayTime(dt.Format(core.TimeLayout))
	return tod.Before(s.brokerSettleTOD)
}

// liveSnapshot builds a snapshot of the current book priced at dt.
func (s *Serializer) liveSnapshot(dt time.Time) position.DaySnapshot {
	dateStr := dt.Format(core.DateLayout)
	snap := position.DaySnapshot{Date: dateStr}

	for _, pos := range s.sess.Positions.All() {
		if pos.TotalQty == 0 {
			continue
		}
		price := pos.CurrentPrice
		if data, err := s.sess.Provider.GetCurrentPrice(pos.Symbol, dt); err == nil && data != nil {
			price = data.CurrentPrice
		}

		qty := decimal.NewFromInt(pos.TotalQty)
		dirMult := decimal.NewFromInt(1)
		if pos.Direction == position.Short {
			dirMult = decimal.NewFromInt(-1)
		}
		dailyPnL := price.Sub(pos.LastSettlePrice).Mul(qty).Mul(dirMult)
		base := pos.LastSettlePrice.Mul(qty).Abs()
		ratio := decimal.Zero
		if base.IsPositive() {
			ratio = dailyPnL.Div(base)
		}

		snap.Positions = append(snap.Positions, position.SnapshotEntry{
			Date:          dateStr,
			Symbol:        pos.Symbol,
			SymbolName:    pos.SymbolName,
			Direction:     pos.Direction,
			Quantity:      pos.TotalQty,
			ClosePrice:    price,
			MarketValue:   qty.Mul(price).Mul(dirMult),
			DailyPnL:      dailyPnL,
			DailyPnLRatio: ratio,
		})
	}
	return snap
}

func (s *Serializer) load(tag string) (*Blob, error) {
	data, err := s.store.Load(tag)
	if err != nil {
		return nil, err
	}
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &blob, nil
}

// requireResumable rejects blobs written at a terminal point. Only states
// created by a pause (or crash mid-run) carry is_running and may be resumed
// or forked; final and interrupt states exist for post-run analysis.
func (s *Serializer) requireResumable(tag string, blob *Blob) error {
	if blob.Context.IsRunning {
		return nil
	}
	origin := "a completed run"
	if blob.Context.WasInterrupted {
		origin = "an interrupted run"
	}
	return fmt.Errorf("state %q was written by %s: %w", tag, origin, apperrors.ErrTerminalStateBlob)
}

// verifySavedConfig compares the blob's saved configuration against the live
// one and warns on mismatches that change run semantics. Blobs written before
// the config was persisted carry no saved config and pass through.
func (s *Serializer) verifySavedConfig(ctx *contextBlob) {
	live := s.sess.Config()

	if ctx.Frequency != "" && ctx.Frequency != live.Engine.Frequency {
		s.logger.Warn("Saved state frequency differs from current config",
			"saved", ctx.Frequency, "current", live.Engine.Frequency)
	}
	opts := ctx.FrequencyOptions
	if opts.TickIntervalSeconds != 0 && opts.TickIntervalSeconds != live.Engine.TickIntervalSeconds {
		s.logger.Warn("Saved tick interval differs from current config",
			"saved", opts.TickIntervalSeconds, "current", live.Engine.TickIntervalSeconds)
	}
	if opts.IntradayUpdateMinutes != 0 && opts.IntradayUpdateMinutes != live.Engine.IntradayUpdateMinutes {
		s.logger.Warn("Saved intraday update interval differs from current config",
			"saved", opts.IntradayUpdateMinutes, "current", live.Engine.IntradayUpdateMinutes)
	}

	saved := ctx.Config
	if saved == nil {
		return
	}
	if saved.Account.InitialCash != live.Account.InitialCash {
		s.logger.Warn("Saved initial cash differs from current config",
			"saved", saved.Account.InitialCash, "current", live.Account.InitialCash)
	}
	if saved.Account.TradingRule != live.Account.TradingRule {
		s.logger.Warn("Saved trading rule differs from current config",
			"saved", saved.Account.TradingRule, "current", live.Account.TradingRule)
	}
	if saved.Account.TradingMode != live.Account.TradingMode {
		s.logger.Warn("Saved trading mode differs from current config",
			"saved", saved.Account.TradingMode, "current", live.Account.TradingMode)
	}
}

// Restore loads the tagged state back into the session for a resume.
func (s *Serializer) Restore(tag string) error {
	blob, err := s.load(tag)
	if err != nil {
		return err
	}
	if err := s.requireResumable(tag, blob); err != nil {
		return err
	}
	s.verifySavedConfig(&blob.Context)

	s.sess.SetStartDate(blob.Context.StartDate)
	s.sess.SetCurrentDT(blob.Context.CurrentDT)
	s.sess.RestoreIntraday(blob.Context.IntradayEquity, blob.Context.IntradayBenchmark)
	s.sess.RestoreSchedulerState(blob.Context.SchedulerState)
	s.sess.RestoreCustomSchedulePoints(blob.Context.CustomSchedulePoints)
	s.sess.RestoreUserData(blob.UserData)

	s.sess.Portfolio.Restore(blob.Portfolio)
	s.sess.Positions.RestorePositions(blob.Positions)
	s.sess.Positions.RestoreSnapshots(blob.PositionSnapshots)
	s.sess.Orders.Restore(blob.Orders)
	s.sess.Benchmark.Restore(blob.Benchmark, s.sess.Portfolio.InitialCash())
	s.sess.Portfolio.UpdateFinancials(s.sess.Positions)

	s.logger.Info("State restored", "tag", tag,
		"saved_at", blob.Timestamp.Format(core.DateTimeLayout),
		"current_dt", blob.Context.CurrentDT.Format(core.DateTimeLayout))
	return nil
}

// Fork rebuilds the session as of the saved state's date, truncating all
// history from that date forward, and returns the fork date. The run then
// replays from the fork date on a fresh timeline.
func (s *Serializer) Fork(tag string, reinitialize bool) (string, error) {
	blob, err := s.load(tag)
	if err != nil {
		return "", err
	}
	if err := s.requireResumable(tag, blob); err != nil {
		return "", err
	}
	s.verifySavedConfig(&blob.Context)

	forkDT := blob.Context.CurrentDT
	forkDate := forkDT.Format(core.DateLayout)
	s.logger.Info("Forking from saved state", "tag", tag, "fork_date", forkDate)

	s.sess.Portfolio.Restore(blob.Portfolio)
	s.sess.Portfolio.TruncateHistoryBefore(forkDate)

	var keptSnapshots []position.DaySnapshot
	for _, snap := range blob.PositionSnapshots {
		if snap.Date < forkDate {
			keptSnapshots = append(keptSnapshots, snap)
		}
	}
	s.sess.Positions.RestorePositions(nil)
	s.sess.Positions.RestoreSnapshots(keptSnapshots)

	// Holdings restart from the last settled snapshot before the fork, fully
	// available and costed at that close.
	if len(keptSnapshots) > 0 {
		last := keptSnapshots[len(keptSnapshots)-1]
		s.logger.Info("Rebuilding positions from snapshot", "date", last.Date)
		acct := s.sess.Config().Account
		for _, entry := range last.Positions {
			if entry.Direction != position.Long && entry.Direction != position.Short {
				continue
			}
			pos := position.NewPosition(entry.Symbol, entry.SymbolName, entry.Quantity,
				entry.ClosePrice, forkDT, entry.Direction,
				decimal.NewFromFloat(acct.ShortMarginRate), acct.TradingRule)
			pos.AvailableQty = pos.TotalQty
			pos.TodayOpenQty = 0
			pos.LastSettlePrice = entry.ClosePrice
			s.sess.Positions.SetPosition(pos)
		}
	}

	var keptOrders []*order.Order
	for _, o := range blob.Orders {
		if o.Status == order.StatusFilled && !o.FilledTime.IsZero() &&
			o.FilledTime.Format(core.DateLayout) < forkDate {
			keptOrders = append(keptOrders, o)
		}
	}
	s.sess.Orders.Restore(keptOrders)

	if reinitialize {
		s.sess.ClearUserData()
	} else {
		s.sess.RestoreUserData(blob.UserData)
		s.sess.RestoreCustomSchedulePoints(blob.Context.CustomSchedulePoints)
		s.logger.Warn("Keeping the previous strategy's user data; ensure the new strategy is compatible")
	}

	s.sess.Benchmark.Restore(blob.Benchmark, s.sess.Portfolio.InitialCash())
	s.sess.Benchmark.TruncateHistoryBefore(forkDate)

	s.sess.SetStartDate(forkDate)
	s.sess.Portfolio.UpdateFinancials(s.sess.Positions)
	return forkDate, nil
}
