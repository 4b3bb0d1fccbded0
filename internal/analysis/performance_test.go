package analysis

import (
	"testing"
	"time"

	"simtrader/internal/trading/order"
	"simtrader/internal/trading/position"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func fill(symbol string, qty int64, side order.Side, price, commission float64, dt time.Time) *order.Order {
	o := order.New(symbol, qty, side, order.TypeMarket, nil, "")
	o.Fill(d(price), d(commission), dt)
	return o
}

func dt(day, hour int) time.Time {
	return time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
}

func TestRoundTripSimpleLong(t *testing.T) {
	orders := []*order.Order{
		fill("600000", 1000, order.SideBuy, 10, 5, dt(4, 14)),
		fill("600000", 1000, order.SideSell, 11, 16, dt(6, 14)),
	}

	trips := RoundTrips(orders)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.Equal(t, position.Long, trip.Direction)
	assert.Equal(t, int64(1000), trip.Quantity)
	assert.True(t, trip.Commission.Equal(d(21)))
	// (11-10)*1000 - 21
	assert.True(t, trip.NetProfit.Equal(d(979)))
	// 979 / 10000
	assert.True(t, trip.ReturnRatio.Equal(d(0.0979)))
	assert.Equal(t, 2, trip.HoldingDays)
}

func TestRoundTripPartialExit(t *testing.T) {
	orders := []*order.Order{
		fill("600000", 1000, order.SideBuy, 10, 10, dt(4, 14)),
		fill("600000", 400, order.SideSell, 12, 8, dt(5, 14)),
	}

	trips := RoundTrips(orders)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.Equal(t, int64(400), trip.Quantity)
	// entry 10 * 400/1000 = 4, exit 8 in full
	assert.True(t, trip.Commission.Equal(d(12)))
	// (12-10)*400 - 12
	assert.True(t, trip.NetProfit.Equal(d(788)))
}

func TestRoundTripFIFOAcrossLots(t *testing.T) {
	orders := []*order.Order{
		fill("600000", 300, order.SideBuy, 10, 3, dt(4, 14)),
		fill("600000", 300, order.SideBuy, 11, 3, dt(5, 14)),
		fill("600000", 500, order.SideSell, 12, 10, dt(6, 14)),
	}

	trips := RoundTrips(orders)
	require.Len(t, trips, 2)

	assert.Equal(t, int64(300), trips[0].Quantity)
	assert.True(t, trips[0].EntryPrice.Equal(d(10)), "oldest lot exits first")
	assert.Equal(t, int64(200), trips[1].Quantity)
	assert.True(t, trips[1].EntryPrice.Equal(d(11)))
	assert.Equal(t, 1, trips[1].HoldingDays)
}

func TestRoundTripShortSide(t *testing.T) {
	orders := []*order.Order{
		fill("600000", 1000, order.SideSell, 12, 0, dt(4, 14)),
		fill("600000", 1000, order.SideBuy, 10, 0, dt(5, 14)),
	}

	trips := RoundTrips(orders)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.Equal(t, position.Short, trip.Direction)
	// (12-10)*1000
	assert.True(t, trip.NetProfit.Equal(d(2000)))
}

func TestRoundTripFlipLongToShort(t *testing.T) {
	orders := []*order.Order{
		fill("600000", 500, order.SideBuy, 10, 0, dt(4, 14)),
		// Sells 800: closes the 500 long, opens a 300 short.
		fill("600000", 800, order.SideSell, 11, 0, dt(5, 14)),
		fill("600000", 300, order.SideBuy, 9, 0, dt(6, 14)),
	}

	trips := RoundTrips(orders)
	require.Len(t, trips, 2)

	assert.Equal(t, position.Long, trips[0].Direction)
	assert.Equal(t, int64(500), trips[0].Quantity)
	assert.True(t, trips[0].NetProfit.Equal(d(500)))

	assert.Equal(t, position.Short, trips[1].Direction)
	assert.Equal(t, int64(300), trips[1].Quantity)
	// (11-9)*300
	assert.True(t, trips[1].NetProfit.Equal(d(600)))
}

func TestRoundTripsIgnoreOpenAndRejected(t *testing.T) {
	open := order.New("600000", 1000, order.SideBuy, order.TypeMarket, nil, "")
	rejected := order.New("600000", 1000, order.SideSell, order.TypeMarket, nil, "")
	rejected.Reject("insufficient holdings")

	trips := RoundTrips([]*order.Order{
		open,
		rejected,
		fill("600000", 1000, order.SideBuy, 10, 0, dt(4, 14)),
	})
	assert.Empty(t, trips, "an unclosed entry produces no round trip")
}

func TestRoundTripsSeparateSymbols(t *testing.T) {
	orders := []*order.Order{
		fill("600000", 1000, order.SideBuy, 10, 0, dt(4, 14)),
		fill("600001", 1000, order.SideSell, 20, 0, dt(4, 15)),
	}
	assert.Empty(t, RoundTrips(orders), "books never cross symbols")
}

func TestSummarize(t *testing.T) {
	trips := []RoundTrip{
		{NetProfit: d(1000), Commission: d(10), HoldingDays: 2},
		{NetProfit: d(500), Commission: d(10), HoldingDays: 4},
		{NetProfit: d(-300), Commission: d(10), HoldingDays: 1},
		{NetProfit: d(0), Commission: d(10), HoldingDays: 1},
	}

	s := Summarize(trips)

	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.True(t, s.WinRate.Equal(d(0.5)))
	assert.True(t, s.NetProfit.Equal(d(1200)))
	assert.True(t, s.GrossProfit.Equal(d(1500)))
	assert.True(t, s.GrossLoss.Equal(d(-300)))
	assert.True(t, s.TotalCommission.Equal(d(40)))
	assert.True(t, s.ProfitFactor.Equal(d(5)))
	assert.True(t, s.AvgWin.Equal(d(750)))
	assert.True(t, s.AvgLoss.Equal(d(-300)))
	assert.True(t, s.MaxWin.Equal(d(1000)))
	assert.True(t, s.MaxLoss.Equal(d(-300)))
	assert.True(t, s.WinLossRatio.Equal(d(2.5)))
	assert.True(t, s.AvgHoldingDays.Equal(d(2)))
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.TotalTrades)
	assert.True(t, s.NetProfit.IsZero())
	assert.True(t, s.WinRate.IsZero())
}
