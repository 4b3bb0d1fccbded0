package strategy

import (
	"testing"
	"time"

	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/mock"
	"simtrader/internal/session"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/portfolio"
	"simtrader/internal/trading/position"
	"simtrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRegisteredStrategy(t *testing.T) {
	s, err := Create("buy_and_hold")
	require.NoError(t, err)
	assert.IsType(t, &BuyAndHold{}, s)

	// Each Create returns a fresh instance.
	s2, err := Create("buy_and_hold")
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
}

func TestCreateUnknownStrategy(t *testing.T) {
	_, err := Create("does_not_exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buy_and_hold", "the error lists what is registered")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("buy_and_hold", func() session.Strategy { return &BuyAndHold{} })
	})
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "buy_and_hold")
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}

func newStrategySession(t *testing.T, params map[string]string) *session.Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.StartDate = "2024-03-04"
	cfg.Engine.EndDate = "2024-03-08"
	cfg.Engine.StrategyParams = params
	cfg.Account.OrderLotSize = 100

	logger := logging.NopLogger{}
	prov := mock.NewProvider()
	prov.SetSimplePrice("600000", 10)
	prov.SetSimplePrice("600001", 20)

	s := session.New(cfg, logger)
	s.Provider = prov
	s.Portfolio = portfolio.New(decimal.NewFromInt(1000000), logger)
	s.Orders = order.NewManager(cfg.Account.OrderLotSize, core.NewFakeClock(time.Time{}), s, logger)
	s.Positions = position.NewManager(cfg.Account.ShortMarginRate, cfg.Account.TradingRule, s, logger)
	s.SetCurrentDT(time.Date(2024, 3, 4, 14, 55, 0, 0, time.UTC))
	return s
}

func TestBuyAndHoldBuysOnceThenHolds(t *testing.T) {
	s := newStrategySession(t, map[string]string{"symbols": "600000, 600001", "lots": "3"})
	b := &BuyAndHold{}

	require.NoError(t, b.Initialize(s))
	require.NoError(t, b.HandleBar(s))

	open := s.Orders.OpenOrders()
	require.Len(t, open, 2)
	assert.Equal(t, int64(300), open[0].Quantity, "3 lots of 100")

	// Later bars submit nothing.
	require.NoError(t, b.HandleBar(s))
	assert.Len(t, s.Orders.OpenOrders(), 2)
}

func TestBuyAndHoldDefaultsToOneLot(t *testing.T) {
	s := newStrategySession(t, map[string]string{"symbols": "600000"})
	b := &BuyAndHold{}

	require.NoError(t, b.Initialize(s))
	require.NoError(t, b.HandleBar(s))

	open := s.Orders.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, int64(100), open[0].Quantity)
}

func TestBuyAndHoldSkipsBuyAfterResume(t *testing.T) {
	s := newStrategySession(t, map[string]string{"symbols": "600000"})
	s.Positions.Adjust("600000", 100, decimal.NewFromInt(10), "", position.Long)

	b := &BuyAndHold{}
	require.NoError(t, b.Initialize(s))
	require.NoError(t, b.HandleBar(s))

	assert.Empty(t, s.Orders.OpenOrders(), "holdings already exist; nothing to buy")
}

func TestBuyAndHoldNoSymbols(t *testing.T) {
	s := newStrategySession(t, nil)
	b := &BuyAndHold{}

	require.NoError(t, b.Initialize(s))
	require.NoError(t, b.HandleBar(s))
	assert.Empty(t, s.Orders.OpenOrders())
}
