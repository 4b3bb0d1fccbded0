// Package mock provides in-memory test doubles for the engine's external
// dependencies.
package mock

import (
	"fmt"
	"sync"
	"time"

	"simtrader/internal/core"
	apperrors "simtrader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Provider implements core.IDataProvider from in-memory fixtures. Prices are
// keyed by symbol and "2006-01-02 15:04:05" timestamp; a symbol-level default
// answers any timestamp without an exact entry.
type Provider struct {
	mu sync.RWMutex

	calendar []string
	prices   map[string]map[string]*core.PriceSnapshot
	defaults map[string]*core.PriceSnapshot
	infos    map[string]*core.SymbolInfo

	// Errors returned verbatim, for failure-path tests.
	CalendarErr error
	PriceErr    error
	InfoErr     error

	priceCalls int
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{
		prices:   make(map[string]map[string]*core.PriceSnapshot),
		defaults: make(map[string]*core.PriceSnapshot),
		infos:    make(map[string]*core.SymbolInfo),
	}
}

// SetCalendar sets the trading days returned by GetTradingCalendar.
func (p *Provider) SetCalendar(days ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calendar = append([]string(nil), days...)
}

// SetPrice registers a snapshot for an exact timestamp.
func (p *Provider) SetPrice(symbol string, dt time.Time, snap *core.PriceSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTime := p.prices[symbol]
	if byTime == nil {
		byTime = make(map[string]*core.PriceSnapshot)
		p.prices[symbol] = byTime
	}
	byTime[dt.Format(core.DateTimeLayout)] = snap
}

// SetDefaultPrice registers the snapshot answered for any timestamp without
// an exact entry.
func (p *Provider) SetDefaultPrice(symbol string, snap *core.PriceSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[symbol] = snap
}

// SetSimplePrice is SetDefaultPrice with just a last price.
func (p *Provider) SetSimplePrice(symbol string, price float64) {
	p.SetDefaultPrice(symbol, &core.PriceSnapshot{CurrentPrice: decimal.NewFromFloat(price)})
}

// SetInfo registers the static info for a symbol.
func (p *Provider) SetInfo(symbol string, info *core.SymbolInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[symbol] = info
}

// PriceCalls reports how many times GetCurrentPrice was invoked.
func (p *Provider) PriceCalls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.priceCalls
}

func (p *Provider) GetTradingCalendar(start, end string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.CalendarErr != nil {
		return nil, p.CalendarErr
	}
	var days []string
	for _, day := range p.calendar {
		if day >= start && day <= end {
			days = append(days, day)
		}
	}
	return days, nil
}

func (p *Provider) GetCurrentPrice(symbol string, dt time.Time) (*core.PriceSnapshot, error) {
	p.mu.Lock()
	p.priceCalls++
	p.mu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.PriceErr != nil {
		return nil, p.PriceErr
	}
	if byTime := p.prices[symbol]; byTime != nil {
		if snap, ok := byTime[dt.Format(core.DateTimeLayout)]; ok {
			return snap, nil
		}
	}
	if snap, ok := p.defaults[symbol]; ok {
		return snap, nil
	}
	return nil, nil
}

func (p *Provider) GetSymbolInfo(symbol string, date string) (*core.SymbolInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.InfoErr != nil {
		return nil, p.InfoErr
	}
	if info, ok := p.infos[symbol]; ok {
		return info, nil
	}
	return nil, nil
}

// Store implements core.IStateStore in memory.
type Store struct {
	mu    sync.Mutex
	blobs map[string][]byte
	order []string

	SaveErr error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Save(tag string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if _, ok := s.blobs[tag]; !ok {
		s.order = append(s.order, tag)
	}
	s.blobs[tag] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Load(tag string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[tag]
	if !ok {
		return nil, fmt.Errorf("tag %q: %w", tag, apperrors.ErrStateNotFound)
	}
	return data, nil
}

func (s *Store) Tags() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := make([]string, len(s.order))
	copy(tags, s.order)
	return tags, nil
}

func (s *Store) Close() error { return nil }
