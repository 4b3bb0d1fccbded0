package position

import (
	"fmt"
	"sync"
	"time"

	"simtrader/internal/core"
	"simtrader/internal/trading/order"
	apperrors "simtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// DaySnapshot is the end-of-day record of all open positions.
type DaySnapshot struct {
	Date      string          `json:"date"`
	Positions []SnapshotEntry `json:"positions"`
}

// Manager tracks all positions and the daily snapshot history.
type Manager struct {
	mu             sync.RWMutex
	positions      map[string]*Position
	dailySnapshots []DaySnapshot

	marginRate  decimal.Decimal
	tradingRule core.TradingRule
	ts          core.ITimeSource
	logger      core.ILogger
}

// NewManager creates a position manager.
func NewManager(marginRate float64, rule core.TradingRule, ts core.ITimeSource, logger core.ILogger) *Manager {
	return &Manager{
		positions:   make(map[string]*Position),
		marginRate:  decimal.NewFromFloat(marginRate),
		tradingRule: rule,
		ts:          ts,
		logger:      logger.WithField("component", "position_manager"),
	}
}

func key(symbol string, direction Direction) string {
	return symbol + "::" + string(direction)
}

// Get returns the position for (symbol, direction), or nil.
func (m *Manager) Get(symbol string, direction Direction) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[key(symbol, direction)]
}

// All returns every held position.
func (m *Manager) All() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// AllByDirection returns positions held on one side.
func (m *Manager) AllByDirection(direction Direction) []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Position
	for _, p := range m.positions {
		if p.Direction == direction {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) ensure(symbol, symbolName string, price decimal.Decimal, dt time.Time, direction Direction) *Position {
	k := key(symbol, direction)
	if p, ok := m.positions[k]; ok {
		return p
	}
	p := NewPosition(symbol, symbolName, 0, price, dt, direction, m.marginRate, m.tradingRule)
	m.positions[k] = p
	return p
}

// ProcessTrade applies a filled order to the book and returns the realized profit.
//
// A buy first covers any short position, the remainder opens or adds to a
// long. A sell first closes the available long, the remainder opens a short
// when the trading mode allows it.
func (m *Manager) ProcessTrade(o *order.Order, price decimal.Decimal, dt time.Time, mode core.TradingMode) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	realized := decimal.Zero
	remaining := o.Quantity

	if o.Side == order.SideBuy {
		if short := m.positions[key(o.Symbol, Short)]; short != nil && short.TotalQty > 0 {
			closable := short.TotalQty
			if m.tradingRule == core.RuleT1 {
				closable = short.AvailableQty
			}
			cover := min(remaining, closable)
			if cover > 0 {
				pnl, err := short.Close(cover, price, dt)
				if err != nil {
					return decimal.Zero, err
				}
				realized = realized.Add(pnl)
				remaining -= cover
				if short.TotalQty == 0 {
					delete(m.positions, key(o.Symbol, Short))
				}
			}
		}
		if remaining > 0 {
			long := m.ensure(o.Symbol, o.SymbolName, price, dt, Long)
			long.Open(remaining, price, dt)
		}
		return realized, nil
	}

	// SELL
	if long := m.positions[key(o.Symbol, Long)]; long != nil && long.TotalQty > 0 {
		sell := min(remaining, long.AvailableQty)
		if sell > 0 {
			pnl, err := long.Close(sell, price, dt)
			if err != nil {
				return decimal.Zero, err
			}
			realized = realized.Add(pnl)
			remaining -= sell
			if long.TotalQty == 0 {
				delete(m.positions, key(o.Symbol, Long))
			}
		}
	}
	if remaining > 0 {
		if mode != core.LongShort {
			return decimal.Zero, apperrors.ErrShortNotAllowed
		}
		short := m.ensure(o.Symbol, o.SymbolName, price, dt, Short)
		short.Open(remaining, price, dt)
	}
	return realized, nil
}

// Adjust sets a position outright. A non-positive qty deletes it. Adjusted
// positions are treated as fully available.
func (m *Manager) Adjust(symbol string, qty int64, avgCost decimal.Decimal, symbolName string, direction Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(symbol, direction)
	if qty <= 0 {
		delete(m.positions, k)
	} else {
		dt := m.ts.CurrentDT()
		p, ok := m.positions[k]
		if ok {
			p.TotalQty = qty
			p.AvgCost = avgCost
			p.AvailableQty = qty
			p.TodayOpenQty = 0
			p.LastUpdateTime = dt
			p.MarginRate = m.marginRate
		} else {
			p = NewPosition(symbol, symbolName, qty, avgCost, dt, direction, m.marginRate, m.tradingRule)
			p.AvailableQty = qty
			p.TodayOpenQty = 0
			m.positions[k] = p
		}
	}
	m.logger.Info("Position adjusted",
		"symbol", symbol, "direction", direction, "quantity", qty, "avg_cost", fmt.Sprintf("%v", avgCost))
}

// ReplaceSnapshotForDate drops any snapshot recorded for date and appends the new one.
func (m *Manager) ReplaceSnapshotForDate(date string, entries []SnapshotEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.dailySnapshots[:0]
	for _, s := range m.dailySnapshots {
		if s.Date != date {
			kept = append(kept, s)
		}
	}
	m.dailySnapshots = append(kept, DaySnapshot{Date: date, Positions: entries})
}

// Snapshots returns a copy of the daily snapshot history.
func (m *Manager) Snapshots() []DaySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DaySnapshot, len(m.dailySnapshots))
	copy(out, m.dailySnapshots)
	return out
}

// RestorePositions replaces the book from a persisted position list.
func (m *Manager) RestorePositions(positions []*Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*Position, len(positions))
	for _, p := range positions {
		m.positions[key(p.Symbol, p.Direction)] = p
	}
}

// RestoreSnapshots replaces the daily snapshot history.
func (m *Manager) RestoreSnapshots(snapshots []DaySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailySnapshots = snapshots
}

// SetPosition installs a fully built position, bypassing availability rules.
// Used when rebuilding state from a snapshot.
func (m *Manager) SetPosition(p *Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[key(p.Symbol, p.Direction)] = p
}

// Count returns the number of open positions. Used by the monitor.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}
