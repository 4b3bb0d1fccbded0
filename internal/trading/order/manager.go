package order

import (
	"fmt"
	"sync"

	"simtrader/internal/core"
	apperrors "simtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Manager tracks today's orders and the filled-order history.
//
// Today's orders cover every state; the history holds only fills and survives
// the end-of-day cleanup.
type Manager struct {
	mu            sync.RWMutex
	orders        map[string]*Order
	orderSeq      []string
	filledHistory []*Order

	lotSize int64
	clock   core.IClock
	ts      core.ITimeSource
	logger  core.ILogger
}

// NewManager creates an order manager.
func NewManager(lotSize int64, clock core.IClock, ts core.ITimeSource, logger core.ILogger) *Manager {
	if lotSize < 1 {
		lotSize = 1
	}
	return &Manager{
		orders:  make(map[string]*Order),
		lotSize: lotSize,
		clock:   clock,
		ts:      ts,
		logger:  logger.WithField("component", "order_manager"),
	}
}

// Submit creates a new order. A positive quantity buys, a negative one sells.
// The quantity is normalized down to a whole number of lots.
func (m *Manager) Submit(symbol string, quantity int64, typ Type, limitPrice *decimal.Decimal, symbolName string) (string, error) {
	if quantity == 0 {
		m.logger.Warn("Order rejected: zero quantity", "symbol", symbol)
		return "", apperrors.ErrZeroQuantity
	}

	side := SideBuy
	abs := quantity
	if quantity < 0 {
		side = SideSell
		abs = -quantity
	}

	normalized := (abs / m.lotSize) * m.lotSize
	if normalized == 0 {
		m.logger.Warn("Order rejected: below lot size",
			"symbol", symbol, "quantity", abs, "lot_size", m.lotSize)
		return "", fmt.Errorf("quantity %d with lot size %d: %w", abs, m.lotSize, apperrors.ErrBelowLotSize)
	}
	if normalized != abs {
		m.logger.Info("Order quantity normalized to lot size",
			"symbol", symbol, "requested", abs, "adjusted", normalized, "lot_size", m.lotSize)
	}

	o := New(symbol, normalized, side, typ, limitPrice, symbolName)
	if m.ts.Mode() == core.ModeSimulation {
		// Live runs stamp the wall clock so matching sees the quote the
		// strategy acted on, not the bar that triggered it.
		o.CreatedTime = m.clock.Now()
	} else {
		o.CreatedTime = m.ts.CurrentDT()
	}
	o.CreatedBarTime = m.ts.CurrentDT()

	m.mu.Lock()
	m.orders[o.ID] = o
	m.orderSeq = append(m.orderSeq, o.ID)
	m.mu.Unlock()

	price := "Market"
	if limitPrice != nil {
		price = limitPrice.String()
	}
	m.logger.Info("Order submitted",
		"order_id", o.ID, "side", side, "symbol", symbol, "quantity", normalized, "price", price)
	return o.ID, nil
}

// Cancel cancels an OPEN order by id.
func (m *Manager) Cancel(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if !o.Cancel() {
		return fmt.Errorf("order %s is %s: %w", orderID, o.Status, apperrors.ErrTerminalState)
	}
	m.logger.Info("Order cancelled", "order_id", orderID)
	return nil
}

// Get returns today's order by id.
func (m *Manager) Get(orderID string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	return o, ok
}

// OpenOrders returns today's OPEN orders in submission order.
func (m *Manager) OpenOrders() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Order
	for _, id := range m.orderSeq {
		if o := m.orders[id]; o != nil && o.Status == StatusOpen {
			out = append(out, o)
		}
	}
	return out
}

// FilledToday returns today's filled orders in submission order.
func (m *Manager) FilledToday() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Order
	for _, id := range m.orderSeq {
		if o := m.orders[id]; o != nil && o.Status == StatusFilled {
			out = append(out, o)
		}
	}
	return out
}

// AddFilledToHistory appends a filled order to the permanent history.
func (m *Manager) AddFilledToHistory(o *Order) {
	m.mu.Lock()
	m.filledHistory = append(m.filledHistory, o)
	m.mu.Unlock()
}

// History returns all filled orders accumulated across the run.
func (m *Manager) History() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Order, len(m.filledHistory))
	copy(out, m.filledHistory)
	return out
}

// AllOrders merges the history with today's orders, today's state winning on id collisions.
func (m *Manager) AllOrders() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	merged := make(map[string]*Order, len(m.filledHistory)+len(m.orders))
	var seq []string
	for _, o := range m.filledHistory {
		if _, ok := merged[o.ID]; !ok {
			seq = append(seq, o.ID)
		}
		merged[o.ID] = o
	}
	for _, id := range m.orderSeq {
		if o := m.orders[id]; o != nil {
			if _, ok := merged[id]; !ok {
				seq = append(seq, id)
			}
			merged[id] = o
		}
	}
	out := make([]*Order, 0, len(seq))
	for _, id := range seq {
		out = append(out, merged[id])
	}
	return out
}

// ClearToday drops today's order book at end of day.
func (m *Manager) ClearToday() {
	m.mu.Lock()
	m.orders = make(map[string]*Order)
	m.orderSeq = nil
	m.mu.Unlock()
}

// Restore splits a persisted order list back into history and today's book.
func (m *Manager) Restore(orders []*Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range orders {
		if o.Status == StatusFilled {
			m.filledHistory = append(m.filledHistory, o)
		} else {
			m.orders[o.ID] = o
			m.orderSeq = append(m.orderSeq, o.ID)
		}
	}
}

// OpenCount returns the number of OPEN orders. Used by the monitor.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.orders {
		if o.Status == StatusOpen {
			n++
		}
	}
	return n
}
