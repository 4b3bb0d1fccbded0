package order

import (
	"testing"
	"time"

	"simtrader/internal/core"
	apperrors "simtrader/pkg/errors"
	"simtrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var barDT = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type stubTimeSource struct {
	dt   time.Time
	mode core.Mode
}

func (s stubTimeSource) CurrentDT() time.Time { return s.dt }
func (s stubTimeSource) Mode() core.Mode      { return s.mode }

func newTestManager(lotSize int64, mode core.Mode) *Manager {
	clock := core.NewFakeClock(barDT.Add(30 * time.Second))
	return NewManager(lotSize, clock, stubTimeSource{dt: barDT, mode: mode}, logging.NopLogger{})
}

func TestSubmitBuyAndSell(t *testing.T) {
	m := newTestManager(100, core.ModeBacktest)

	buyID, err := m.Submit("600000", 200, TypeMarket, nil, "")
	require.NoError(t, err)
	buy, ok := m.Get(buyID)
	require.True(t, ok)
	assert.Equal(t, SideBuy, buy.Side)
	assert.Equal(t, int64(200), buy.Quantity)
	assert.Equal(t, StatusOpen, buy.Status)
	assert.True(t, buy.Immediate)

	sellID, err := m.Submit("600000", -200, TypeMarket, nil, "")
	require.NoError(t, err)
	sell, _ := m.Get(sellID)
	assert.Equal(t, SideSell, sell.Side)
	assert.Equal(t, int64(200), sell.Quantity)
}

func TestSubmitZeroQuantity(t *testing.T) {
	m := newTestManager(100, core.ModeBacktest)

	_, err := m.Submit("600000", 0, TypeMarket, nil, "")
	assert.ErrorIs(t, err, apperrors.ErrZeroQuantity)
}

func TestSubmitLotNormalization(t *testing.T) {
	m := newTestManager(100, core.ModeBacktest)

	id, err := m.Submit("600000", 250, TypeMarket, nil, "")
	require.NoError(t, err)
	o, _ := m.Get(id)
	assert.Equal(t, int64(200), o.Quantity, "250 shares round down to 2 lots")

	_, err = m.Submit("600000", 50, TypeMarket, nil, "")
	assert.ErrorIs(t, err, apperrors.ErrBelowLotSize)
}

func TestSubmitTimestamps(t *testing.T) {
	// Backtest orders carry the bar time on both stamps.
	m := newTestManager(1, core.ModeBacktest)
	id, err := m.Submit("600000", 100, TypeMarket, nil, "")
	require.NoError(t, err)
	o, _ := m.Get(id)
	assert.Equal(t, barDT, o.CreatedTime)
	assert.Equal(t, barDT, o.CreatedBarTime)

	// Simulation orders stamp the wall clock as the creation time.
	m = newTestManager(1, core.ModeSimulation)
	id, err = m.Submit("600000", 100, TypeMarket, nil, "")
	require.NoError(t, err)
	o, _ = m.Get(id)
	assert.Equal(t, barDT.Add(30*time.Second), o.CreatedTime)
	assert.Equal(t, barDT, o.CreatedBarTime)
}

func TestCancel(t *testing.T) {
	m := newTestManager(1, core.ModeBacktest)
	id, err := m.Submit("600000", 100, TypeMarket, nil, "")
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	o, _ := m.Get(id)
	assert.Equal(t, StatusCancelled, o.Status)

	assert.ErrorIs(t, m.Cancel(id), apperrors.ErrTerminalState)
	assert.ErrorIs(t, m.Cancel("missing"), apperrors.ErrOrderNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	o := New("600000", 100, SideBuy, TypeMarket, nil, "")

	o.Fill(decimal.NewFromInt(10), decimal.NewFromInt(5), barDT)
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.IsTerminal())
	assert.False(t, o.Cancel(), "filled orders cannot be cancelled")

	expired := New("600000", 100, SideBuy, TypeMarket, nil, "")
	expired.Expire()
	assert.Equal(t, StatusExpired, expired.Status)

	rejected := New("600000", 100, SideBuy, TypeMarket, nil, "")
	rejected.Reject("no price")
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "no price", rejected.Reason)
}

func TestClearTodayKeepsHistory(t *testing.T) {
	m := newTestManager(1, core.ModeBacktest)

	id, err := m.Submit("600000", 100, TypeMarket, nil, "")
	require.NoError(t, err)
	o, _ := m.Get(id)
	o.Fill(decimal.NewFromInt(10), decimal.Zero, barDT)
	m.AddFilledToHistory(o)

	m.ClearToday()

	_, ok := m.Get(id)
	assert.False(t, ok, "today's book is empty after the clear")
	require.Len(t, m.History(), 1)
	assert.Equal(t, id, m.History()[0].ID)
}

func TestAllOrdersMergesTodayOverHistory(t *testing.T) {
	m := newTestManager(1, core.ModeBacktest)

	id, err := m.Submit("600000", 100, TypeMarket, nil, "")
	require.NoError(t, err)
	o, _ := m.Get(id)
	o.Fill(decimal.NewFromInt(10), decimal.Zero, barDT)
	m.AddFilledToHistory(o)

	all := m.AllOrders()
	require.Len(t, all, 1, "an order filled today must not be listed twice")
	assert.Equal(t, StatusFilled, all[0].Status)
}

func TestRestoreSplitsHistoryAndToday(t *testing.T) {
	m := newTestManager(1, core.ModeBacktest)

	filled := New("600000", 100, SideBuy, TypeMarket, nil, "")
	filled.Fill(decimal.NewFromInt(10), decimal.Zero, barDT)
	open := New("600001", 100, SideBuy, TypeMarket, nil, "")

	m.Restore([]*Order{filled, open})

	assert.Len(t, m.History(), 1)
	assert.Len(t, m.OpenOrders(), 1)
	assert.Equal(t, 1, m.OpenCount())
}
