// Package order implements the order value object and its lifecycle manager
package order

import (
	"strings"
	"time"

	apperrors "simtrader/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the trade direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type distinguishes market from limit orders.
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// ParseType parses an order type string, case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(s) {
	case "MARKET":
		return TypeMarket, nil
	case "LIMIT":
		return TypeLimit, nil
	default:
		return "", apperrors.ErrInvalidOrderType
	}
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Order represents a single order and the fill information attached to it
// during matching.
type Order struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	SymbolName string           `json:"symbol_name,omitempty"`
	Side       Side             `json:"side"`
	Type       Type             `json:"type"`
	Quantity   int64            `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`

	Status         Status          `json:"status"`
	CreatedTime    time.Time       `json:"created_time"`
	CreatedBarTime time.Time       `json:"created_bar_time"`
	FilledTime     time.Time       `json:"filled_time,omitzero"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	Commission     decimal.Decimal `json:"commission"`
	Reason         string          `json:"reason,omitempty"`

	// Immediate orders are matched against the quote at their creation time.
	// Once marked historical they rest until the market crosses their limit.
	Immediate bool `json:"immediate"`
}

// New creates an OPEN order with a fresh identity.
func New(symbol string, quantity int64, side Side, typ Type, limitPrice *decimal.Decimal, symbolName string) *Order {
	return &Order{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		SymbolName: symbolName,
		Side:       side,
		Type:       typ,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		Status:     StatusOpen,
		Immediate:  true,
	}
}

// Fill marks the order filled at price with the given commission.
func (o *Order) Fill(price, commission decimal.Decimal, dt time.Time) {
	o.Status = StatusFilled
	o.FilledPrice = price
	o.Commission = commission
	o.FilledTime = dt
}

// Reject marks the order rejected with a reason.
func (o *Order) Reject(reason string) {
	o.Status = StatusRejected
	o.Reason = reason
}

// Cancel marks an OPEN order cancelled. Returns false for terminal orders.
func (o *Order) Cancel() bool {
	if o.Status == StatusOpen {
		o.Status = StatusCancelled
		return true
	}
	return false
}

// Expire marks a still-open order expired at end of day.
func (o *Order) Expire() {
	if o.Status == StatusOpen {
		o.Status = StatusExpired
	}
}

// MarkHistorical flips the order into the resting-order pool.
func (o *Order) MarkHistorical() {
	o.Immediate = false
}

// IsTerminal reports whether the order can no longer transition.
func (o *Order) IsTerminal() bool {
	return o.Status != StatusOpen
}
