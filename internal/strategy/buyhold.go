package strategy

import (
	"strconv"
	"strings"

	"simtrader/internal/session"
	"simtrader/internal/trading/order"
	"simtrader/internal/trading/position"
)

func init() {
	Register("buy_and_hold", func() session.Strategy { return &BuyAndHold{} })
}

// BuyAndHold buys the configured symbols on the first bar and holds them for
// the rest of the run. Strategy params:
//
//	symbols: comma separated symbol list (required)
//	lots:    lots to buy per symbol (default 1)
type BuyAndHold struct {
	session.BaseStrategy

	symbols []string
	lots    int64
	bought  bool
}

func (b *BuyAndHold) Initialize(s *session.Session) error {
	params := s.Config().Engine.StrategyParams
	for _, sym := range strings.Split(params["symbols"], ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			b.symbols = append(b.symbols, sym)
		}
	}
	b.lots = 1
	if raw, ok := params["lots"]; ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			b.lots = n
		}
	}
	if len(b.symbols) == 0 {
		s.Logger.Warn("buy_and_hold has no symbols configured; the run will stay in cash")
	}

	// A resumed run may already hold the book.
	b.bought = s.Positions.Count() > 0
	return nil
}

func (b *BuyAndHold) HandleBar(s *session.Session) error {
	if b.bought {
		return nil
	}
	lotSize := s.Config().Account.OrderLotSize
	for _, sym := range b.symbols {
		if _, err := s.Orders.Submit(sym, b.lots*lotSize, order.TypeMarket, nil, ""); err != nil {
			s.Logger.Warn("buy_and_hold order rejected", "symbol", sym, "error", err)
		}
	}
	b.bought = true
	return nil
}

func (b *BuyAndHold) OnEnd(s *session.Session) error {
	for _, pos := range s.Positions.AllByDirection(position.Long) {
		s.Logger.Info("Final holding",
			"symbol", pos.Symbol, "quantity", pos.TotalQty,
			"avg_cost", pos.AvgCost.String(), "last_price", pos.CurrentPrice.String())
	}
	return nil
}
