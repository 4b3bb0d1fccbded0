package cost

import (
	"testing"

	"simtrader/internal/config"
	"simtrader/internal/trading/order"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testCommissionConfig() config.CommissionConfig {
	return config.CommissionConfig{
		BuyCommission:  0.0003,
		SellCommission: 0.0003,
		BuyTax:         0,
		SellTax:        0.001,
		MinCommission:  5,
	}
}

func TestCommissionRate(t *testing.T) {
	m := NewCommissionModel(testCommissionConfig())

	// 100000 * 0.0003 = 30, above the minimum
	got := m.Calculate(order.SideBuy, d(100), 1000)
	assert.True(t, got.Equal(d(30)), "got %s", got)
}

func TestCommissionMinimum(t *testing.T) {
	m := NewCommissionModel(testCommissionConfig())

	// 1000 * 0.0003 = 0.3, below the 5 minimum
	got := m.Calculate(order.SideBuy, d(10), 100)
	assert.True(t, got.Equal(d(5)), "got %s", got)
}

func TestSellTaxHasNoFloor(t *testing.T) {
	m := NewCommissionModel(testCommissionConfig())

	// commission floored at 5, tax 100000 * 0.001 = 100
	got := m.Calculate(order.SideSell, d(100), 1000)
	assert.True(t, got.Equal(d(130)), "got %s", got)

	// small sell: commission 5 + tax 1
	got = m.Calculate(order.SideSell, d(10), 100)
	assert.True(t, got.Equal(d(6)), "got %s", got)
}

func TestSlippageFixed(t *testing.T) {
	m := NewSlippageModel(config.SlippageConfig{Type: "fixed", Rate: 0.001})

	got := m.Calculate(d(100))
	assert.True(t, got.Equal(d(0.1)), "got %s", got)
}

func TestSlippageDisabled(t *testing.T) {
	m := NewSlippageModel(config.SlippageConfig{Type: "", Rate: 0.001})
	assert.True(t, m.Calculate(d(100)).IsZero())

	m = NewSlippageModel(config.SlippageConfig{Type: "none", Rate: 0.5})
	assert.True(t, m.Calculate(d(100)).IsZero())
}
