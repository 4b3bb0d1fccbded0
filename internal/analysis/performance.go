// Package analysis derives per-trade and aggregate performance figures from
// the order history of a finished (or paused) run.
package analysis

import (
	"sort"
	"time"

	"simtrader/internal/core"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/position"

	"github.com/shopspring/decimal"
)

// RoundTrip is one closed trade: an entry fill matched FIFO against the
// exit fill that closed it. Partial fills produce multiple round trips.
type RoundTrip struct {
	Symbol      string             `json:"symbol"`
	Direction   position.Direction `json:"direction"`
	Quantity    int64              `json:"quantity"`
	EntryTime   time.Time          `json:"entry_time"`
	ExitTime    time.Time          `json:"exit_time"`
	EntryPrice  decimal.Decimal    `json:"entry_price"`
	ExitPrice   decimal.Decimal    `json:"exit_price"`
	Commission  decimal.Decimal    `json:"commission"`
	NetProfit   decimal.Decimal    `json:"net_profit"`
	ReturnRatio decimal.Decimal    `json:"return_ratio"`
	HoldingDays int                `json:"holding_days"`
}

// Summary aggregates all round trips of a run.
type Summary struct {
	TotalTrades     int             `json:"total_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	WinRate         decimal.Decimal `json:"win_rate"`
	NetProfit       decimal.Decimal `json:"net_profit"`
	GrossProfit     decimal.Decimal `json:"gross_profit"`
	GrossLoss       decimal.Decimal `json:"gross_loss"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
	AvgWin          decimal.Decimal `json:"avg_win"`
	AvgLoss         decimal.Decimal `json:"avg_loss"`
	MaxWin          decimal.Decimal `json:"max_win"`
	MaxLoss         decimal.Decimal `json:"max_loss"`
	WinLossRatio    decimal.Decimal `json:"win_loss_ratio"`
	AvgHoldingDays  decimal.Decimal `json:"avg_holding_days"`
}

// openLot is an unmatched entry fill awaiting its closing side.
type openLot struct {
	price      decimal.Decimal
	qty        int64
	remaining  int64
	commission decimal.Decimal
	filledTime time.Time
}

type lotBook struct {
	long  []*openLot
	short []*openLot
}

// RoundTrips pairs filled orders FIFO into closed trades. A buy first covers
// outstanding short lots, then opens long lots; a sell mirrors that. Lots
// still open at the end of the history produce no round trip.
func RoundTrips(orders []*order.Order) []RoundTrip {
	filled := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == order.StatusFilled {
			filled = append(filled, o)
		}
	}
	sort.SliceStable(filled, func(i, j int) bool {
		return filled[i].FilledTime.Before(filled[j].FilledTime)
	})

	books := make(map[string]*lotBook)
	var trips []RoundTrip

	for _, o := range filled {
		book := books[o.Symbol]
		if book == nil {
			book = &lotBook{}
			books[o.Symbol] = book
		}

		if o.Side == order.SideBuy {
			closed, left := closeLots(&book.short, o, position.Short)
			trips = append(trips, closed...)
			openRemainder(&book.long, o, left)
		} else {
			closed, left := closeLots(&book.long, o, position.Long)
			trips = append(trips, closed...)
			openRemainder(&book.short, o, left)
		}
	}
	return trips
}

// closeLots consumes lots FIFO against the exit order, emitting one round
// trip per lot touched. Returns the exit quantity left unmatched, which the
// caller opens on the order's own side.
func closeLots(lots *[]*openLot, exit *order.Order, dir position.Direction) ([]RoundTrip, int64) {
	var trips []RoundTrip
	remaining := exit.Quantity

	for remaining > 0 && len(*lots) > 0 {
		lot := (*lots)[0]
		matched := lot.remaining
		if remaining < matched {
			matched = remaining
		}

		matchedDec := decimal.NewFromInt(matched)
		entryComm := prorate(lot.commission, matched, lot.qty)
		exitComm := prorate(exit.Commission, matched, exit.Quantity)
		commission := entryComm.Add(exitComm)

		var gross decimal.Decimal
		if dir == position.Long {
			gross = exit.FilledPrice.Sub(lot.price).Mul(matchedDec)
		} else {
			gross = lot.price.Sub(exit.FilledPrice).Mul(matchedDec)
		}
		net := gross.Sub(commission)

		cost := lot.price.Mul(matchedDec)
		ratio := decimal.Zero
		if cost.IsPositive() {
			ratio = net.Div(cost)
		}

		trips = append(trips, RoundTrip{
			Symbol:      exit.Symbol,
			Direction:   dir,
			Quantity:    matched,
			EntryTime:   lot.filledTime,
			ExitTime:    exit.FilledTime,
			EntryPrice:  lot.price,
			ExitPrice:   exit.FilledPrice,
			Commission:  commission,
			NetProfit:   net,
			ReturnRatio: ratio,
			HoldingDays: holdingDays(lot.filledTime, exit.FilledTime),
		})

		lot.remaining -= matched
		remaining -= matched
		if lot.remaining == 0 {
			*lots = (*lots)[1:]
		}
	}

	return trips, remaining
}

func openRemainder(lots *[]*openLot, o *order.Order, remaining int64) {
	if remaining <= 0 {
		return
	}
	*lots = append(*lots, &openLot{
		price:      o.FilledPrice,
		qty:        o.Quantity,
		remaining:  remaining,
		commission: o.Commission,
		filledTime: o.FilledTime,
	})
}

func prorate(total decimal.Decimal, matched, full int64) decimal.Decimal {
	if full <= 0 {
		return decimal.Zero
	}
	return total.Mul(decimal.NewFromInt(matched)).Div(decimal.NewFromInt(full))
}

func holdingDays(entry, exit time.Time) int {
	e, _ := time.Parse(core.DateLayout, entry.Format(core.DateLayout))
	x, _ := time.Parse(core.DateLayout, exit.Format(core.DateLayout))
	return int(x.Sub(e).Hours() / 24)
}

// Summarize aggregates round trips into a run-level summary.
func Summarize(trips []RoundTrip) Summary {
	s := Summary{TotalTrades: len(trips)}
	if len(trips) == 0 {
		return s
	}

	totalDays := decimal.Zero
	for _, t := range trips {
		s.NetProfit = s.NetProfit.Add(t.NetProfit)
		s.TotalCommission = s.TotalCommission.Add(t.Commission)
		totalDays = totalDays.Add(decimal.NewFromInt(int64(t.HoldingDays)))

		if t.NetProfit.IsPositive() {
			s.WinningTrades++
			s.GrossProfit = s.GrossProfit.Add(t.NetProfit)
			if t.NetProfit.GreaterThan(s.MaxWin) {
				s.MaxWin = t.NetProfit
			}
		} else if t.NetProfit.IsNegative() {
			s.LosingTrades++
			s.GrossLoss = s.GrossLoss.Add(t.NetProfit)
			if t.NetProfit.LessThan(s.MaxLoss) {
				s.MaxLoss = t.NetProfit
			}
		}
	}

	count := decimal.NewFromInt(int64(len(trips)))
	s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(count)
	s.AvgHoldingDays = totalDays.Div(count)

	if s.WinningTrades > 0 {
		s.AvgWin = s.GrossProfit.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = s.GrossLoss.Div(decimal.NewFromInt(int64(s.LosingTrades)))
	}
	if lossAbs := s.GrossLoss.Abs(); lossAbs.IsPositive() {
		s.ProfitFactor = s.GrossProfit.Div(lossAbs)
	}
	if lossAbs := s.AvgLoss.Abs(); lossAbs.IsPositive() {
		s.WinLossRatio = s.AvgWin.Div(lossAbs)
	}
	return s
}
