// Package position implements per-symbol, per-direction position accounting
package position

import (
	"strings"
	"time"

	"simtrader/internal/core"
	apperrors "simtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Direction is the side a position is held on.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection parses a direction from its textual name, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	default:
		return "", apperrors.ErrInvalidDirection
	}
}

// Position is a single holding keyed by (symbol, direction).
//
// TodayOpenQty and AvailableQty implement the T+1 split: quantity opened today
// only becomes sellable after the daily settlement.
type Position struct {
	Symbol     string    `json:"symbol"`
	SymbolName string    `json:"symbol_name,omitempty"`
	Direction  Direction `json:"direction"`

	TotalQty     int64 `json:"total_qty"`
	AvailableQty int64 `json:"available_qty"`
	TodayOpenQty int64 `json:"today_open_qty"`

	AvgCost         decimal.Decimal `json:"avg_cost"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	LastSettlePrice decimal.Decimal `json:"last_settle_price"`
	MarginRate      decimal.Decimal `json:"margin_rate"`

	TradingRule core.TradingRule `json:"trading_rule"`

	InitTime       time.Time `json:"init_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// NewPosition creates a position opened with qty at price.
func NewPosition(symbol, symbolName string, qty int64, price decimal.Decimal,
	dt time.Time, direction Direction, marginRate decimal.Decimal, rule core.TradingRule) *Position {
	p := &Position{
		Symbol:          symbol,
		SymbolName:      symbolName,
		Direction:       direction,
		TotalQty:        qty,
		TodayOpenQty:    qty,
		AvgCost:         price,
		CurrentPrice:    price,
		LastSettlePrice: price,
		MarginRate:      marginRate,
		TradingRule:     rule,
		InitTime:        dt,
		LastUpdateTime:  dt,
	}
	if rule == core.RuleT0 {
		p.AvailableQty = qty
	}
	return p
}

func (p *Position) sign() decimal.Decimal {
	if p.Direction == Long {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// MarketValue is the signed market value; short positions are negative.
func (p *Position) MarketValue() decimal.Decimal {
	return p.sign().Mul(decimal.NewFromInt(p.TotalQty)).Mul(p.CurrentPrice)
}

// MarketValueAtCost is the signed value of the position at its average cost.
func (p *Position) MarketValueAtCost() decimal.Decimal {
	return p.sign().Mul(decimal.NewFromInt(p.TotalQty)).Mul(p.AvgCost)
}

// UnrealizedPnL is the floating profit against the average cost.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.AvgCost)
	if p.Direction == Short {
		diff = p.AvgCost.Sub(p.CurrentPrice)
	}
	return diff.Mul(decimal.NewFromInt(p.TotalQty))
}

// UnrealizedPnLRatio is the floating profit relative to the average cost.
func (p *Position) UnrealizedPnLRatio() decimal.Decimal {
	if p.AvgCost.IsZero() {
		return decimal.Zero
	}
	return p.sign().Mul(p.CurrentPrice.Sub(p.AvgCost)).Div(p.AvgCost)
}

// Margin is the cash reserved against this position. Long positions carry none.
func (p *Position) Margin() decimal.Decimal {
	if p.Direction != Short {
		return decimal.Zero
	}
	return decimal.NewFromInt(p.TotalQty).Mul(p.CurrentPrice).Abs().Mul(p.MarginRate)
}

// UpdatePrice refreshes the mark price.
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
}

// Open adds qty at price, recomputing the weighted average cost.
func (p *Position) Open(qty int64, price decimal.Decimal, dt time.Time) {
	totalCost := p.AvgCost.Mul(decimal.NewFromInt(p.TotalQty)).
		Add(price.Mul(decimal.NewFromInt(qty)))
	p.TotalQty += qty
	if p.TotalQty > 0 {
		p.AvgCost = totalCost.Div(decimal.NewFromInt(p.TotalQty))
	} else {
		p.AvgCost = decimal.Zero
	}
	p.TodayOpenQty += qty
	if p.TradingRule == core.RuleT0 {
		p.AvailableQty += qty
	}
	p.LastUpdateTime = dt
}

// Close removes qty at price and returns the realized profit of the closed part.
func (p *Position) Close(qty int64, price decimal.Decimal, dt time.Time) (decimal.Decimal, error) {
	if qty > p.TotalQty {
		return decimal.Zero, apperrors.ErrCloseExceedsPosition
	}
	var pnl decimal.Decimal
	if p.Direction == Long {
		pnl = price.Sub(p.AvgCost).Mul(decimal.NewFromInt(qty))
	} else {
		pnl = p.AvgCost.Sub(price).Mul(decimal.NewFromInt(qty))
	}
	p.TotalQty -= qty
	p.AvailableQty -= qty
	if p.AvailableQty < 0 {
		p.AvailableQty = 0
	}
	if p.TotalQty == 0 {
		p.TodayOpenQty = 0
	}
	p.LastUpdateTime = dt
	return pnl, nil
}

// SettleT1 converts today's opens into sellable quantity.
func (p *Position) SettleT1() {
	p.AvailableQty += p.TodayOpenQty
	p.TodayOpenQty = 0
}

// SnapshotEntry is one position row inside a daily snapshot.
type SnapshotEntry struct {
	Date          string          `json:"date"`
	Symbol        string          `json:"symbol"`
	SymbolName    string          `json:"symbol_name,omitempty"`
	Direction     Direction       `json:"direction"`
	Quantity      int64           `json:"quantity"`
	ClosePrice    decimal.Decimal `json:"close_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	DailyPnLRatio decimal.Decimal `json:"daily_pnl_ratio"`
}

// SettleDay marks the position to the close, books the daily profit against
// the previous settle price and rolls the settle price forward. Returns nil
// for empty positions.
func (p *Position) SettleDay(closePrice decimal.Decimal, dateStr string) *SnapshotEntry {
	if p.TotalQty == 0 {
		p.LastSettlePrice = closePrice
		p.UpdatePrice(closePrice)
		return nil
	}

	prev := p.LastSettlePrice
	qty := decimal.NewFromInt(p.TotalQty)
	var dailyPnL decimal.Decimal
	if p.Direction == Long {
		dailyPnL = closePrice.Sub(prev).Mul(qty)
	} else {
		dailyPnL = prev.Sub(closePrice).Mul(qty)
	}

	p.LastSettlePrice = closePrice
	p.UpdatePrice(closePrice)

	base := p.AvgCost.Mul(qty).Abs()
	ratio := decimal.Zero
	if base.IsPositive() {
		ratio = dailyPnL.Div(base)
	}

	return &SnapshotEntry{
		Date:          dateStr,
		Symbol:        p.Symbol,
		SymbolName:    p.SymbolName,
		Direction:     p.Direction,
		Quantity:      p.TotalQty,
		ClosePrice:    closePrice,
		MarketValue:   p.sign().Mul(qty).Mul(closePrice),
		DailyPnL:      dailyPnL,
		DailyPnLRatio: ratio,
	}
}
