// Package portfolio tracks account cash, margin and the daily account history
package portfolio

import (
	"sync"
	"time"

	"simtrader/internal/core"
	"simtrader/internal/trading/position"

	"github.com/shopspring/decimal"
)

// HistoryRow is one daily account record.
type HistoryRow struct {
	Date          string          `json:"date"`
	NetWorth      decimal.Decimal `json:"net_worth"`
	TotalAssets   decimal.Decimal `json:"total_assets"`
	Cash          decimal.Decimal `json:"cash"`
	Margin        decimal.Decimal `json:"margin"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	LongValue     decimal.Decimal `json:"long_positions_value"`
	ShortValue    decimal.Decimal `json:"short_positions_value"`
	NetValue      decimal.Decimal `json:"net_positions_value"`
	Returns       decimal.Decimal `json:"returns"`
}

// Portfolio is the account-level view of the simulated broker.
//
// Cash is the raw balance; AvailableCash subtracts the margin reserved
// against short positions. Derived figures are refreshed by
// UpdateFinancials after every trade and settlement.
type Portfolio struct {
	mu sync.RWMutex

	initialCash decimal.Decimal
	cash        decimal.Decimal

	margin     decimal.Decimal
	longValue  decimal.Decimal
	shortValue decimal.Decimal

	history []HistoryRow

	logger core.ILogger
}

// New creates a portfolio funded with initialCash.
func New(initialCash decimal.Decimal, logger core.ILogger) *Portfolio {
	return &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		logger:      logger.WithField("component", "portfolio"),
	}
}

// Cash returns the raw cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// InitialCash returns the starting capital.
func (p *Portfolio) InitialCash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialCash
}

// AvailableCash is cash minus the margin held against shorts.
func (p *Portfolio) AvailableCash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash.Sub(p.margin)
}

// Margin returns the total margin currently reserved.
func (p *Portfolio) Margin() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.margin
}

// AddCash applies a signed cash delta.
func (p *Portfolio) AddCash(delta decimal.Decimal) {
	p.mu.Lock()
	p.cash = p.cash.Add(delta)
	p.mu.Unlock()
}

// SetCash overwrites the cash balance. Used by state alignment and restore.
func (p *Portfolio) SetCash(cash decimal.Decimal) {
	p.mu.Lock()
	p.cash = cash
	p.mu.Unlock()
}

// SetInitialCash rebases the starting capital. Used by SetInitialState so
// returns are measured from the injected holdings, not the configured cash.
func (p *Portfolio) SetInitialCash(cash decimal.Decimal) {
	p.mu.Lock()
	p.initialCash = cash
	p.mu.Unlock()
}

// LongValue is the market value of long positions at the last update.
func (p *Portfolio) LongValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.longValue
}

// ShortValue is the absolute market value of short positions at the last update.
func (p *Portfolio) ShortValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shortValue
}

// NetValue is long value minus short value.
func (p *Portfolio) NetValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.longValue.Sub(p.shortValue)
}

// TotalAssets is cash plus long market value. Shorts contribute through
// cash and margin, not here.
func (p *Portfolio) TotalAssets() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash.Add(p.longValue)
}

// NetWorth is cash plus the net position value.
func (p *Portfolio) NetWorth() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.netWorthLocked()
}

func (p *Portfolio) netWorthLocked() decimal.Decimal {
	return p.cash.Add(p.longValue).Sub(p.shortValue)
}

// Returns is the cumulative return against the initial capital.
func (p *Portfolio) Returns() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.returnsLocked()
}

func (p *Portfolio) returnsLocked() decimal.Decimal {
	if p.initialCash.IsZero() {
		return decimal.Zero
	}
	return p.netWorthLocked().Sub(p.initialCash).Div(p.initialCash)
}

// UpdateFinancials recomputes margin and position values from the book.
func (p *Portfolio) UpdateFinancials(pm *position.Manager) {
	margin := decimal.Zero
	longValue := decimal.Zero
	shortValue := decimal.Zero
	for _, pos := range pm.All() {
		margin = margin.Add(pos.Margin())
		if pos.Direction == position.Long {
			longValue = longValue.Add(pos.MarketValue())
		} else {
			shortValue = shortValue.Add(pos.MarketValue().Abs())
		}
	}

	p.mu.Lock()
	p.margin = margin
	p.longValue = longValue
	p.shortValue = shortValue
	p.mu.Unlock()
}

// RecordHistory appends a daily row for dt.
func (p *Portfolio) RecordHistory(dt time.Time, pm *position.Manager) {
	p.UpdateFinancials(pm)

	p.mu.Lock()
	row := HistoryRow{
		Date:          dt.Format(core.DateLayout),
		NetWorth:      p.netWorthLocked(),
		TotalAssets:   p.cash.Add(p.longValue),
		Cash:          p.cash,
		Margin:        p.margin,
		AvailableCash: p.cash.Sub(p.margin),
		LongValue:     p.longValue,
		ShortValue:    p.shortValue,
		NetValue:      p.longValue.Sub(p.shortValue),
		Returns:       p.returnsLocked(),
	}
	p.history = append(p.history, row)
	p.mu.Unlock()

	p.logger.Info("Account history recorded",
		"date", row.Date,
		"net_worth", row.NetWorth.StringFixed(2),
		"cash", row.Cash.StringFixed(2),
		"returns", row.Returns.StringFixed(4))
}

// History returns a copy of the daily account history.
func (p *Portfolio) History() []HistoryRow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]HistoryRow, len(p.history))
	copy(out, p.history)
	return out
}

// AppendHistory adds a prebuilt row. Used to seed the day-zero anchor.
func (p *Portfolio) AppendHistory(row HistoryRow) {
	p.mu.Lock()
	p.history = append(p.history, row)
	p.mu.Unlock()
}

// TruncateHistoryBefore drops rows dated on or after cutoff.
func (p *Portfolio) TruncateHistoryBefore(cutoff string) {
	p.mu.Lock()
	kept := p.history[:0]
	for _, row := range p.history {
		if row.Date < cutoff {
			kept = append(kept, row)
		}
	}
	p.history = kept
	p.mu.Unlock()
}

// State is the serializable form of the portfolio.
type State struct {
	InitialCash decimal.Decimal `json:"initial_cash"`
	Cash        decimal.Decimal `json:"cash"`
	History     []HistoryRow    `json:"history"`
}

// Snapshot captures the portfolio for persistence.
func (p *Portfolio) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	history := make([]HistoryRow, len(p.history))
	copy(history, p.history)
	return State{
		InitialCash: p.initialCash,
		Cash:        p.cash,
		History:     history,
	}
}

// Restore replaces the portfolio from a persisted state.
func (p *Portfolio) Restore(s State) {
	p.mu.Lock()
	p.initialCash = s.InitialCash
	p.cash = s.Cash
	p.history = s.History
	p.margin = decimal.Zero
	p.longValue = decimal.Zero
	p.shortValue = decimal.Zero
	p.mu.Unlock()
}
