// Package benchmark tracks a reference symbol's daily returns alongside the account
package benchmark

import (
	"sync"
	"time"

	"simtrader/internal/core"

	"github.com/shopspring/decimal"
)

// Row is one daily benchmark record.
type Row struct {
	Date       string          `json:"date"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Returns    decimal.Decimal `json:"returns"`
	Value      decimal.Decimal `json:"value"`
}

// Tracker prices a benchmark symbol day by day and converts its return into
// the value a buy-and-hold of the initial capital would have.
//
// A tracker without a symbol, or whose anchor price cannot be fetched, is
// disabled and every update becomes a no-op.
type Tracker struct {
	mu sync.RWMutex

	symbol       string
	name         string
	initialValue decimal.Decimal
	initialCash  decimal.Decimal
	enabled      bool

	history []Row

	provider core.IDataProvider
	logger   core.ILogger
}

// NewTracker creates a benchmark tracker for the configured symbol. An empty
// symbol disables tracking.
func NewTracker(symbol, name string, provider core.IDataProvider, logger core.ILogger) *Tracker {
	return &Tracker{
		symbol:   symbol,
		name:     name,
		provider: provider,
		logger:   logger.WithField("component", "benchmark"),
	}
}

// Initialize anchors the benchmark at the start date's price.
func (t *Tracker) Initialize(startDate string, initialCash decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.initialCash = initialCash
	if t.symbol == "" {
		t.logger.Info("Benchmark disabled: no symbol configured")
		return
	}

	if info, err := t.provider.GetSymbolInfo(t.symbol, startDate); err == nil && info != nil && info.SymbolName != "" {
		t.name = info.SymbolName
	}
	if t.name == "" {
		t.name = t.symbol
	}

	day, err := time.Parse(core.DateLayout, startDate)
	if err != nil {
		t.logger.Warn("Benchmark disabled: invalid start date", "start_date", startDate)
		return
	}
	price, err := t.provider.GetCurrentPrice(t.symbol, day)
	if err != nil || price == nil {
		t.logger.Warn("Benchmark disabled: no anchor price at start date",
			"symbol", t.symbol, "start_date", startDate)
		return
	}

	t.initialValue = price.CurrentPrice
	t.enabled = true
	t.logger.Info("Benchmark initialized",
		"symbol", t.symbol, "name", t.name, "initial_value", t.initialValue.String())
}

// Enabled reports whether the benchmark is being tracked.
func (t *Tracker) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Symbol returns the benchmark symbol, empty when disabled.
func (t *Tracker) Symbol() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.symbol
}

// Name returns the display name of the benchmark.
func (t *Tracker) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// InitialValue returns the anchor price.
func (t *Tracker) InitialValue() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialValue
}

// UpdateDaily appends the benchmark row for dt. Days without a price are
// skipped with a warning.
func (t *Tracker) UpdateDaily(dt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}
	price, err := t.provider.GetCurrentPrice(t.symbol, dt)
	if err != nil || price == nil {
		t.logger.Warn("Benchmark update skipped: no price",
			"symbol", t.symbol, "date", dt.Format(core.DateLayout))
		return
	}

	close := price.CurrentPrice
	returns := decimal.Zero
	if t.initialValue.IsPositive() {
		returns = close.Sub(t.initialValue).Div(t.initialValue)
	}
	t.history = append(t.history, Row{
		Date:       dt.Format(core.DateLayout),
		ClosePrice: close,
		Returns:    returns,
		Value:      t.initialCash.Mul(decimal.NewFromInt(1).Add(returns)),
	})
}

// History returns a copy of the benchmark rows.
func (t *Tracker) History() []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Row, len(t.history))
	copy(out, t.history)
	return out
}

// AppendHistory adds a prebuilt row. Used to seed the day-zero anchor.
func (t *Tracker) AppendHistory(row Row) {
	t.mu.Lock()
	t.history = append(t.history, row)
	t.mu.Unlock()
}

// TruncateHistoryBefore drops rows dated on or after cutoff.
func (t *Tracker) TruncateHistoryBefore(cutoff string) {
	t.mu.Lock()
	kept := t.history[:0]
	for _, row := range t.history {
		if row.Date < cutoff {
			kept = append(kept, row)
		}
	}
	t.history = kept
	t.mu.Unlock()
}

// State is the serializable form of the tracker.
type State struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	InitialValue decimal.Decimal `json:"initial_value"`
	History      []Row           `json:"history"`
}

// Snapshot captures the tracker for persistence.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	history := make([]Row, len(t.history))
	copy(history, t.history)
	return State{
		Symbol:       t.symbol,
		Name:         t.name,
		InitialValue: t.initialValue,
		History:      history,
	}
}

// Restore replaces the tracker from a persisted state.
func (t *Tracker) Restore(s State, initialCash decimal.Decimal) {
	t.mu.Lock()
	t.symbol = s.Symbol
	t.name = s.Name
	t.initialValue = s.InitialValue
	t.history = s.History
	t.initialCash = initialCash
	t.enabled = s.Symbol != "" && s.InitialValue.IsPositive()
	t.mu.Unlock()
}
