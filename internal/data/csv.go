package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"simtrader/internal/core"

	"github.com/shopspring/decimal"
)

// CSVProvider serves market data from a directory of CSV files:
//
//	calendar.csv       one trading date (2006-01-02) per line
//	symbols.csv        symbol,name rows
//	<symbol>.csv       datetime,price[,ask1,bid1,high_limit,low_limit] rows
//
// Bar files are loaded lazily and cached. A price lookup returns the latest
// bar at or before the requested time on the same date.
type CSVProvider struct {
	dir    string
	logger core.ILogger

	mu       sync.Mutex
	calendar []string
	names    map[string]string
	bars     map[string][]bar
}

type bar struct {
	dt   time.Time
	snap *core.PriceSnapshot
}

// NewCSVProvider creates a provider rooted at dir. The calendar and symbol
// table are read eagerly so a bad directory fails fast.
func NewCSVProvider(dir string, logger core.ILogger) (*CSVProvider, error) {
	p := &CSVProvider{
		dir:    dir,
		logger: logger.WithField("component", "csv_provider"),
		names:  make(map[string]string),
		bars:   make(map[string][]bar),
	}
	if err := p.loadCalendar(); err != nil {
		return nil, err
	}
	if err := p.loadSymbols(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CSVProvider) loadCalendar() error {
	rows, err := p.readCSV("calendar.csv")
	if err != nil {
		return fmt.Errorf("failed to load trading calendar: %w", err)
	}
	for _, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		if _, err := time.Parse(core.DateLayout, row[0]); err != nil {
			return fmt.Errorf("bad calendar date %q: %w", row[0], err)
		}
		p.calendar = append(p.calendar, row[0])
	}
	sort.Strings(p.calendar)
	p.logger.Info("Trading calendar loaded", "days", len(p.calendar))
	return nil
}

func (p *CSVProvider) loadSymbols() error {
	rows, err := p.readCSV("symbols.csv")
	if err != nil {
		if os.IsNotExist(err) {
			// Optional file; symbols then carry no display name.
			return nil
		}
		return fmt.Errorf("failed to load symbol table: %w", err)
	}
	for _, row := range rows {
		if len(row) >= 2 {
			p.names[strings.TrimSpace(row[0])] = strings.TrimSpace(row[1])
		}
	}
	return nil
}

func (p *CSVProvider) readCSV(name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(p.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	// Drop a header row if present.
	if len(rows) > 0 && len(rows[0]) > 0 {
		if _, err := parseBarTime(rows[0][0]); err != nil {
			rows = rows[1:]
		}
	}
	return rows, nil
}

func (p *CSVProvider) loadBars(symbol string) ([]bar, error) {
	if bars, ok := p.bars[symbol]; ok {
		return bars, nil
	}

	rows, err := p.readCSV(symbol + ".csv")
	if err != nil {
		if os.IsNotExist(err) {
			p.bars[symbol] = nil
			return nil, nil
		}
		return nil, err
	}

	bars := make([]bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		dt, err := parseBarTime(row[0])
		if err != nil {
			p.logger.Warn("Skipping bar with bad timestamp", "symbol", symbol, "value", row[0])
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(row[1]))
		if err != nil {
			p.logger.Warn("Skipping bar with bad price", "symbol", symbol, "value", row[1])
			continue
		}
		snap := &core.PriceSnapshot{CurrentPrice: price}
		snap.Ask1 = optionalDecimal(row, 2)
		snap.Bid1 = optionalDecimal(row, 3)
		snap.HighLimit = optionalDecimal(row, 4)
		snap.LowLimit = optionalDecimal(row, 5)
		bars = append(bars, bar{dt: dt, snap: snap})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].dt.Before(bars[j].dt) })

	p.bars[symbol] = bars
	p.logger.Debug("Bars loaded", "symbol", symbol, "count", len(bars))
	return bars, nil
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if dt, err := time.Parse(core.DateTimeLayout, s); err == nil {
		return dt, nil
	}
	return time.Parse(core.DateLayout, s)
}

func optionalDecimal(row []string, idx int) *decimal.Decimal {
	if idx >= len(row) {
		return nil
	}
	v := strings.TrimSpace(row[idx])
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	return &d
}

func (p *CSVProvider) GetTradingCalendar(start, end string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var days []string
	for _, day := range p.calendar {
		if day >= start && day <= end {
			days = append(days, day)
		}
	}
	return days, nil
}

func (p *CSVProvider) GetCurrentPrice(symbol string, dt time.Time) (*core.PriceSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bars, err := p.loadBars(symbol)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	// Latest bar at or before dt, restricted to dt's date.
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].dt.After(dt) }) - 1
	if idx < 0 {
		return nil, nil
	}
	if bars[idx].dt.Format(core.DateLayout) != dt.Format(core.DateLayout) {
		return nil, nil
	}
	return bars[idx].snap, nil
}

func (p *CSVProvider) GetSymbolInfo(symbol string, date string) (*core.SymbolInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.names[symbol]
	if !ok {
		return nil, nil
	}
	return &core.SymbolInfo{SymbolName: name}, nil
}
