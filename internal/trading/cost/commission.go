// Package cost implements trading cost models for commission and slippage
package cost

import (
	"simtrader/internal/config"
	"simtrader/internal/trading/order"

	"github.com/shopspring/decimal"
)

// CommissionModel computes per-fill commission plus transaction tax.
//
// Commission uses a per-side rate with a minimum charge; tax is applied on
// the traded value without a floor.
type CommissionModel struct {
	buyRate       decimal.Decimal
	sellRate      decimal.Decimal
	buyTax        decimal.Decimal
	sellTax       decimal.Decimal
	minCommission decimal.Decimal
}

// NewCommissionModel builds the model from config.
func NewCommissionModel(cfg config.CommissionConfig) *CommissionModel {
	return &CommissionModel{
		buyRate:       decimal.NewFromFloat(cfg.BuyCommission),
		sellRate:      decimal.NewFromFloat(cfg.SellCommission),
		buyTax:        decimal.NewFromFloat(cfg.BuyTax),
		sellTax:       decimal.NewFromFloat(cfg.SellTax),
		minCommission: decimal.NewFromFloat(cfg.MinCommission),
	}
}

// Calculate returns the total cost of filling qty at price on the given side.
func (m *CommissionModel) Calculate(side order.Side, price decimal.Decimal, qty int64) decimal.Decimal {
	value := price.Mul(decimal.NewFromInt(qty))

	rate, tax := m.buyRate, m.buyTax
	if side == order.SideSell {
		rate, tax = m.sellRate, m.sellTax
	}

	commission := value.Mul(rate)
	if commission.LessThan(m.minCommission) {
		commission = m.minCommission
	}
	return commission.Add(value.Mul(tax))
}

// SlippageModel computes the per-share price penalty applied to a fill.
type SlippageModel struct {
	fixed bool
	rate  decimal.Decimal
}

// NewSlippageModel builds the model from config. Unknown types slip nothing.
func NewSlippageModel(cfg config.SlippageConfig) *SlippageModel {
	return &SlippageModel{
		fixed: cfg.Type == "fixed",
		rate:  decimal.NewFromFloat(cfg.Rate),
	}
}

// Calculate returns the absolute price offset for a fill at price. Buys pay
// it on top, sells give it up.
func (m *SlippageModel) Calculate(price decimal.Decimal) decimal.Decimal {
	if !m.fixed {
		return decimal.Zero
	}
	return price.Mul(m.rate)
}
