package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"simtrader/internal/config"
	"simtrader/internal/core"
)

// Calendar answers trading-day and trading-time questions. The full calendar
// is fetched from the data provider once and cached for the run.
type Calendar struct {
	provider  core.IDataProvider
	startDate string
	endDate   string
	sessions  [][2]time.Time
	clock     core.IClock

	mu    sync.Mutex
	cache map[string]struct{}
}

// NewCalendar creates a calendar for the configured date range and sessions.
func NewCalendar(provider core.IDataProvider, cfg *config.Config, clock core.IClock) *Calendar {
	return &Calendar{
		provider:  provider,
		startDate: cfg.Engine.StartDate,
		endDate:   cfg.Engine.EndDate,
		sessions:  cfg.Lifecycle.Sessions(),
		clock:     clock,
	}
}

func (c *Calendar) fullCalendar() (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		return c.cache, nil
	}

	start := c.startDate
	if start == "" {
		start = "2005-01-01"
	}
	end := c.endDate
	if end == "" {
		// Simulation runs have no end date; fetch through next year to keep
		// the cache valid across the year boundary.
		end = fmt.Sprintf("%d-12-31", c.clock.Now().Year()+1)
	}

	days, err := c.provider.GetTradingCalendar(start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trading calendar: %w", err)
	}
	c.cache = make(map[string]struct{}, len(days))
	for _, d := range days {
		c.cache[d] = struct{}{}
	}
	return c.cache, nil
}

// TradingDays returns the trading days within [start, end], ascending.
func (c *Calendar) TradingDays(start, end string) ([]string, error) {
	cal, err := c.fullCalendar()
	if err != nil {
		return nil, err
	}
	var out []string
	for d := range cal {
		if d >= start && d <= end {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsTradingDay reports whether dt falls on a trading day.
func (c *Calendar) IsTradingDay(dt time.Time) bool {
	cal, err := c.fullCalendar()
	if err != nil {
		return false
	}
	_, ok := cal[dt.Format(core.DateLayout)]
	return ok
}

// IsTradingTime reports whether dt is inside a trading session on a trading day.
func (c *Calendar) IsTradingTime(dt time.Time) bool {
	if !c.IsTradingDay(dt) {
		return false
	}
	return withinSessions(dt, c.sessions)
}

// withinSessions checks the time of day against session bounds, inclusive.
func withinSessions(dt time.Time, sessions [][2]time.Time) bool {
	tod := timeOfDay(dt)
	for _, s := range sessions {
		if !tod.Before(s[0]) && !tod.After(s[1]) {
			return true
		}
	}
	return false
}

// timeOfDay normalizes dt to the reference day used by core.ParseDayTime.
func timeOfDay(dt time.Time) time.Time {
	parsed, _ := core.ParseDayTime(dt.Format(core.TimeLayout))
	return parsed
}
