// Package data wraps market data providers with resilience.
package data

import (
	"time"

	"simtrader/internal/core"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryingProvider decorates a core.IDataProvider with retries and backoff.
// A (nil, nil) price answer is a valid "no quote" result and is not retried.
type RetryingProvider struct {
	inner core.IDataProvider

	calendarExec failsafe.Executor[[]string]
	priceExec    failsafe.Executor[*core.PriceSnapshot]
	infoExec     failsafe.Executor[*core.SymbolInfo]

	logger core.ILogger
}

// NewRetryingProvider wraps inner with the default retry policy.
func NewRetryingProvider(inner core.IDataProvider, logger core.ILogger) *RetryingProvider {
	return &RetryingProvider{
		inner:        inner,
		calendarExec: failsafe.With[[]string](newPolicy[[]string]()),
		priceExec:    failsafe.With[*core.PriceSnapshot](newPolicy[*core.PriceSnapshot]()),
		infoExec:     failsafe.With[*core.SymbolInfo](newPolicy[*core.SymbolInfo]()),
		logger:       logger.WithField("component", "data"),
	}
}

func newPolicy[R any]() retrypolicy.RetryPolicy[R] {
	return retrypolicy.NewBuilder[R]().
		HandleIf(func(_ R, err error) bool {
			return err != nil
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()
}

func (p *RetryingProvider) GetTradingCalendar(start, end string) ([]string, error) {
	days, err := p.calendarExec.GetWithExecution(func(_ failsafe.Execution[[]string]) ([]string, error) {
		return p.inner.GetTradingCalendar(start, end)
	})
	if err != nil {
		p.logger.Error("Trading calendar fetch failed after retries",
			"start", start, "end", end, "error", err)
	}
	return days, err
}

func (p *RetryingProvider) GetCurrentPrice(symbol string, dt time.Time) (*core.PriceSnapshot, error) {
	snap, err := p.priceExec.GetWithExecution(func(_ failsafe.Execution[*core.PriceSnapshot]) (*core.PriceSnapshot, error) {
		return p.inner.GetCurrentPrice(symbol, dt)
	})
	if err != nil {
		p.logger.Warn("Price fetch failed after retries", "symbol", symbol, "error", err)
	}
	return snap, err
}

func (p *RetryingProvider) GetSymbolInfo(symbol string, date string) (*core.SymbolInfo, error) {
	info, err := p.infoExec.GetWithExecution(func(_ failsafe.Execution[*core.SymbolInfo]) (*core.SymbolInfo, error) {
		return p.inner.GetSymbolInfo(symbol, date)
	})
	if err != nil {
		p.logger.Warn("Symbol info fetch failed after retries", "symbol", symbol, "error", err)
	}
	return info, err
}
