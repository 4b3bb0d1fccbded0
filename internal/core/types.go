// Package core defines the shared types and interfaces for the simulation framework
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects the time base the engine runs on.
type Mode string

const (
	ModeBacktest   Mode = "backtest"
	ModeSimulation Mode = "simulation"
)

// Frequency controls how often handle-bar events fire within a trading day.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyMinute Frequency = "minute"
	FrequencyTick   Frequency = "tick"
)

// TradingRule selects the settlement rule applied to newly opened positions.
type TradingRule string

const (
	RuleT1 TradingRule = "T+1"
	RuleT0 TradingRule = "T+0"
)

// TradingMode controls whether short positions may be opened.
type TradingMode string

const (
	LongOnly  TradingMode = "long_only"
	LongShort TradingMode = "long_short"
)

// MarketPhase is the scheduler's classification of the current wall-clock time.
type MarketPhase string

const (
	PhaseBeforeTrading MarketPhase = "BEFORE_TRADING"
	PhaseTrading       MarketPhase = "TRADING"
	PhaseAfterTrading  MarketPhase = "AFTER_TRADING"
	PhaseSettlement    MarketPhase = "SETTLEMENT"
	PhaseClosed        MarketPhase = "CLOSED"
)

// PriceSnapshot is the market view of a single symbol at a point in time.
// CurrentPrice is always present; the book and price-band fields are optional.
type PriceSnapshot struct {
	CurrentPrice decimal.Decimal  `json:"current_price"`
	Ask1         *decimal.Decimal `json:"ask1,omitempty"`
	Bid1         *decimal.Decimal `json:"bid1,omitempty"`
	HighLimit    *decimal.Decimal `json:"high_limit,omitempty"`
	LowLimit     *decimal.Decimal `json:"low_limit,omitempty"`
}

// SymbolInfo carries the per-day static attributes of a symbol.
type SymbolInfo struct {
	SymbolName  string `json:"symbol_name"`
	IsSuspended bool   `json:"is_suspended"`
}

// IntradayPoint is one sampled equity or benchmark value within a day.
type IntradayPoint struct {
	Time  string          `json:"time"`
	Value decimal.Decimal `json:"value"`
}

// DateLayout is the canonical date format used across calendars and histories.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical intraday time format used by schedule points.
const TimeLayout = "15:04:05"

// DateTimeLayout combines DateLayout and TimeLayout.
const DateTimeLayout = "2006-01-02 15:04:05"

// ParseDayTime parses an "HH:MM:SS" string into a time-of-day anchored at the zero date.
func ParseDayTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// CombineDayTime stamps a time-of-day onto the date of day.
func CombineDayTime(day time.Time, tod time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), 0, day.Location())
}
