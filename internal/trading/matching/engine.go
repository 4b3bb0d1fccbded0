// Package matching simulates the exchange side: it prices, checks and fills
// open orders, and runs the end-of-day settlement.
package matching

import (
	"fmt"
	"sync"
	"time"

	"simtrader/internal/core"
	"simtrader/internal/trading/cost"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/portfolio"
	"simtrader/internal/trading/position"

	"github.com/shopspring/decimal"
)

// priceTolerance absorbs rounding at the limit-up/limit-down boundary.
var priceTolerance = decimal.NewFromFloat(1e-6)

// snapshot merges the quote with the symbol's static info for one match attempt.
type snapshot struct {
	price *core.PriceSnapshot
	info  *core.SymbolInfo
}

// Engine matches open orders against provider quotes.
//
// Orders are matched in two passes: immediate orders (fresh submissions) are
// priced at the quote of their creation time, resting orders at the current
// bar. An immediate order that cannot fill right away becomes a resting order
// and waits for the market to cross its limit.
type Engine struct {
	mu sync.Mutex

	orders     *order.Manager
	positions  *position.Manager
	portfolio  *portfolio.Portfolio
	provider   core.IDataProvider
	commission *cost.CommissionModel
	slippage   *cost.SlippageModel

	tradingMode core.TradingMode
	tradingRule core.TradingRule
	marginRate  decimal.Decimal

	ts     core.ITimeSource
	logger core.ILogger

	// Quote-independent symbol info, cached per trading day.
	infoCache map[string]*core.SymbolInfo
}

// Deps carries the engine's collaborators.
type Deps struct {
	Orders     *order.Manager
	Positions  *position.Manager
	Portfolio  *portfolio.Portfolio
	Provider   core.IDataProvider
	Commission *cost.CommissionModel
	Slippage   *cost.SlippageModel

	TradingMode     core.TradingMode
	TradingRule     core.TradingRule
	ShortMarginRate float64

	TimeSource core.ITimeSource
	Logger     core.ILogger
}

// NewEngine creates a matching engine.
func NewEngine(d Deps) *Engine {
	return &Engine{
		orders:      d.Orders,
		positions:   d.Positions,
		portfolio:   d.Portfolio,
		provider:    d.Provider,
		commission:  d.Commission,
		slippage:    d.Slippage,
		tradingMode: d.TradingMode,
		tradingRule: d.TradingRule,
		marginRate:  decimal.NewFromFloat(d.ShortMarginRate),
		ts:          d.TimeSource,
		logger:      d.Logger.WithField("component", "matching_engine"),
		infoCache:   make(map[string]*core.SymbolInfo),
	}
}

// ClearInfoCache drops the cached symbol info. Called at the start of each
// trading day so suspension flags are re-fetched.
func (e *Engine) ClearInfoCache() {
	e.mu.Lock()
	e.infoCache = make(map[string]*core.SymbolInfo)
	e.mu.Unlock()
}

// MatchOrders attempts to fill every open order at time dt.
//
// The partition is taken before either pass: an immediate order demoted to
// resting in this call waits for the next tick instead of falling through to
// the resting pass below.
func (e *Engine) MatchOrders(dt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var immediate, resting []*order.Order
	for _, o := range e.orders.OpenOrders() {
		if o.Immediate {
			immediate = append(immediate, o)
		} else {
			resting = append(resting, o)
		}
	}
	for _, o := range immediate {
		e.tryMatchImmediate(o)
	}
	for _, o := range resting {
		if o.Status == order.StatusOpen {
			e.tryMatchHistorical(o, dt)
		}
	}
}

func (e *Engine) cachedSymbolInfo(symbol string, dt time.Time) *core.SymbolInfo {
	if info, ok := e.infoCache[symbol]; ok {
		return info
	}
	info, err := e.provider.GetSymbolInfo(symbol, dt.Format(core.DateLayout))
	if err != nil || info == nil {
		return nil
	}
	e.infoCache[symbol] = info
	return info
}

func (e *Engine) buildSnapshot(symbol string, dt time.Time) *snapshot {
	price, err := e.provider.GetCurrentPrice(symbol, dt)
	if err != nil || price == nil {
		return nil
	}
	info := e.cachedSymbolInfo(symbol, dt)
	if info == nil {
		info = &core.SymbolInfo{SymbolName: symbol, IsSuspended: false}
	}
	return &snapshot{price: price, info: info}
}

// tryMatchImmediate prices a fresh order against the quote at its creation
// time, so matching sees the market the strategy acted on.
func (e *Engine) tryMatchImmediate(o *order.Order) {
	fetchDT := o.CreatedTime
	snap := e.buildSnapshot(o.Symbol, fetchDT)
	if snap == nil {
		o.MarkHistorical()
		return
	}

	if !e.preCheck(o, snap) {
		return
	}

	matchPrice := e.immediateMatchPrice(o, snap)
	if matchPrice == nil {
		o.MarkHistorical()
		return
	}

	e.executeMatch(o, *matchPrice, snap, fetchDT)
}

// tryMatchHistorical fills a resting limit order once the market crosses it.
func (e *Engine) tryMatchHistorical(o *order.Order, dt time.Time) {
	snap := e.buildSnapshot(o.Symbol, dt)
	if snap == nil {
		return
	}
	if snap.info.IsSuspended {
		return
	}

	current := snap.price.CurrentPrice
	canMatch := false
	if o.Side == order.SideBuy {
		canMatch = o.Type == order.TypeMarket ||
			(o.LimitPrice != nil && current.LessThanOrEqual(*o.LimitPrice))
	} else {
		canMatch = o.Type == order.TypeMarket ||
			(o.LimitPrice != nil && current.GreaterThanOrEqual(*o.LimitPrice))
	}
	if !canMatch {
		return
	}

	matchPrice := current
	if o.Type == order.TypeLimit {
		matchPrice = *o.LimitPrice
	}
	e.executeMatch(o, matchPrice, snap, dt)
}

// immediateMatchPrice picks the fill price for an immediate order, or nil
// when the order cannot fill at the current quote.
func (e *Engine) immediateMatchPrice(o *order.Order, snap *snapshot) *decimal.Decimal {
	ref := snap.price.CurrentPrice

	marketPrice := ref
	if o.Side == order.SideBuy {
		if snap.price.Ask1 != nil {
			marketPrice = *snap.price.Ask1
		}
	} else {
		if snap.price.Bid1 != nil {
			marketPrice = *snap.price.Bid1
		}
	}

	if o.Type == order.TypeMarket {
		return &marketPrice
	}

	// LIMIT: fill at the market only when the limit crosses it.
	if o.LimitPrice == nil {
		return nil
	}
	if o.Side == order.SideBuy && o.LimitPrice.GreaterThanOrEqual(marketPrice) {
		return &marketPrice
	}
	if o.Side == order.SideSell && o.LimitPrice.LessThanOrEqual(marketPrice) {
		return &marketPrice
	}
	return nil
}

// preCheck rejects orders the exchange would never accept: suspended symbols,
// missing quotes, buys at limit-up and sells at limit-down.
func (e *Engine) preCheck(o *order.Order, snap *snapshot) bool {
	if o.SymbolName == "" {
		o.SymbolName = snap.info.SymbolName
	}

	if snap.info.IsSuspended {
		reason := fmt.Sprintf("symbol %s is suspended", o.Symbol)
		e.logger.Warn("Order rejected", "order_id", o.ID, "reason", reason)
		o.Reject(reason)
		return false
	}

	current := snap.price.CurrentPrice
	if o.Side == order.SideBuy && snap.price.HighLimit != nil &&
		current.Sub(*snap.price.HighLimit).Abs().LessThan(priceTolerance) {
		reason := fmt.Sprintf("symbol %s is at limit-up", o.Symbol)
		e.logger.Warn("Order rejected", "order_id", o.ID, "reason", reason)
		o.Reject(reason)
		return false
	}
	if o.Side == order.SideSell && snap.price.LowLimit != nil &&
		current.Sub(*snap.price.LowLimit).Abs().LessThan(priceTolerance) {
		reason := fmt.Sprintf("symbol %s is at limit-down", o.Symbol)
		e.logger.Warn("Order rejected", "order_id", o.ID, "reason", reason)
		o.Reject(reason)
		return false
	}
	return true
}

// withinLimitRange checks the post-slippage price against the day's price
// band, with a small tolerance.
func withinLimitRange(price decimal.Decimal, snap *snapshot) bool {
	high, low := snap.price.HighLimit, snap.price.LowLimit
	if high == nil || low == nil {
		return true
	}
	return price.GreaterThanOrEqual(low.Sub(priceTolerance)) &&
		price.LessThanOrEqual(high.Add(priceTolerance))
}

// executeMatch runs the full fill pipeline: slippage, price-band check,
// commission, sufficiency, then the trade itself.
func (e *Engine) executeMatch(o *order.Order, matchPrice decimal.Decimal, snap *snapshot, dt time.Time) {
	slip := e.slippage.Calculate(matchPrice)
	finalPrice := matchPrice.Add(slip)
	if o.Side == order.SideSell {
		finalPrice = matchPrice.Sub(slip)
	}

	if !withinLimitRange(finalPrice, snap) {
		reason := fmt.Sprintf("price %s after slippage is outside the limit range", finalPrice.StringFixed(2))
		e.logger.Warn("Order rejected",
			"order_id", o.ID, "side", o.Side, "symbol", o.Symbol, "quantity", o.Quantity, "reason", reason)
		o.Reject(reason)
		return
	}

	commission := e.commission.Calculate(o.Side, finalPrice, o.Quantity)

	if ok, reason := e.checkSufficiency(o, finalPrice, commission); !ok {
		e.logger.Warn("Order rejected",
			"order_id", o.ID, "side", o.Side, "symbol", o.Symbol, "quantity", o.Quantity, "reason", reason)
		o.Reject(reason)
		o.MarkHistorical()
		return
	}

	e.finalizeTrade(o, finalPrice, commission, dt)
}

// checkSufficiency verifies the account can carry the trade.
func (e *Engine) checkSufficiency(o *order.Order, price, commission decimal.Decimal) (bool, string) {
	qty := decimal.NewFromInt(o.Quantity)

	if o.Side == order.SideBuy {
		cashNeeded := price.Mul(qty).Add(commission)

		marginReleased := decimal.Zero
		if short := e.positions.Get(o.Symbol, position.Short); short != nil && short.TotalQty > 0 {
			availableToCover := short.TotalQty
			if e.tradingRule == core.RuleT1 {
				availableToCover = short.AvailableQty
			}
			if o.Quantity > availableToCover {
				// Covering more than the rule allows cannot be split into a
				// partial cover plus a new long; reject outright.
				return false, fmt.Sprintf("short cover blocked by T+1 (available: %d, requested: %d)",
					availableToCover, o.Quantity)
			}
			coverQty := min(o.Quantity, availableToCover)
			marginReleased = short.Margin().
				Div(decimal.NewFromInt(short.TotalQty)).
				Mul(decimal.NewFromInt(coverQty))
		}

		buyingPower := e.portfolio.AvailableCash().Add(marginReleased)
		if buyingPower.GreaterThanOrEqual(cashNeeded) {
			return true, ""
		}
		return false, fmt.Sprintf("insufficient buying power (needed: %s, available: %s)",
			cashNeeded.StringFixed(2), buyingPower.StringFixed(2))
	}

	// SELL
	var availableLong int64
	if long := e.positions.Get(o.Symbol, position.Long); long != nil && long.TotalQty > 0 {
		availableLong = long.AvailableQty
	}
	if o.Quantity <= availableLong {
		return true, ""
	}

	shortQty := o.Quantity - availableLong
	if e.tradingMode == core.LongShort {
		marginNeeded := price.Mul(decimal.NewFromInt(shortQty)).Mul(e.marginRate)
		if e.portfolio.AvailableCash().GreaterThanOrEqual(marginNeeded) {
			return true, ""
		}
		return false, fmt.Sprintf("insufficient margin to open short (needed: %s, available: %s)",
			marginNeeded.StringFixed(2), e.portfolio.AvailableCash().StringFixed(2))
	}
	return false, fmt.Sprintf("insufficient holding (requested: %d, available: %d)", o.Quantity, availableLong)
}

// finalizeTrade books the fill into the order history, positions and cash.
func (e *Engine) finalizeTrade(o *order.Order, price, commission decimal.Decimal, dt time.Time) {
	o.Fill(price, commission, dt)
	e.orders.AddFilledToHistory(o)

	grossValue := price.Mul(decimal.NewFromInt(o.Quantity))
	realized, err := e.positions.ProcessTrade(o, price, dt, e.tradingMode)
	if err != nil {
		// Sufficiency passed, so this indicates inconsistent book state.
		e.logger.Error("Position update failed after fill", "order_id", o.ID, "error", err)
	}

	if o.Side == order.SideBuy {
		e.portfolio.AddCash(grossValue.Add(commission).Neg())
	} else {
		e.portfolio.AddCash(grossValue.Sub(commission))
	}

	e.portfolio.UpdateFinancials(e.positions)

	if !realized.IsZero() {
		e.logger.Info("Order filled",
			"side", o.Side, "symbol", o.Symbol, "quantity", o.Quantity,
			"price", price.StringFixed(2),
			"realized_pnl", realized.Sub(commission).StringFixed(2))
	} else {
		e.logger.Info("Order filled",
			"side", o.Side, "symbol", o.Symbol, "quantity", o.Quantity,
			"price", price.StringFixed(2))
	}
}

// Settle runs the end-of-day flow: expire resting orders, mark every position
// to the close, roll T+1 availability, and record the daily account history.
func (e *Engine) Settle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("Daily settlement started")

	for _, o := range e.orders.OpenOrders() {
		if !o.Immediate {
			o.Expire()
		}
	}
	e.orders.ClearToday()

	currentDT := e.ts.CurrentDT()
	dateStr := currentDT.Format(core.DateLayout)
	var entries []position.SnapshotEntry

	for _, pos := range e.positions.All() {
		price, err := e.provider.GetCurrentPrice(pos.Symbol, currentDT)
		if err == nil && price != nil {
			if entry := pos.SettleDay(price.CurrentPrice, dateStr); entry != nil {
				entries = append(entries, *entry)
			}
		} else {
			e.logger.Warn("No close price for settlement", "symbol", pos.Symbol, "date", dateStr)
		}

		if e.tradingRule == core.RuleT1 {
			pos.SettleT1()
		}
	}

	e.positions.ReplaceSnapshotForDate(dateStr, entries)
	e.portfolio.RecordHistory(currentDT, e.positions)

	e.logger.Info("Daily settlement finished", "net_worth", e.portfolio.NetWorth().StringFixed(2))
}
