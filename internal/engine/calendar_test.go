package engine

import (
	"errors"
	"testing"
	"time"

	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalendar(t *testing.T, days ...string) (*Calendar, *mock.Provider) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.StartDate = "2024-03-01"
	cfg.Engine.EndDate = "2024-03-29"

	provider := mock.NewProvider()
	provider.SetCalendar(days...)

	clock := core.NewFakeClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	return NewCalendar(provider, cfg, clock), provider
}

func TestTradingDaysFiltersAndSorts(t *testing.T) {
	cal, _ := newTestCalendar(t, "2024-03-06", "2024-03-04", "2024-03-05", "2024-03-11")

	days, err := cal.TradingDays("2024-03-04", "2024-03-06")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-04", "2024-03-05", "2024-03-06"}, days)
}

func TestTradingDaysCachesProviderCalendar(t *testing.T) {
	cal, provider := newTestCalendar(t, "2024-03-04")

	days, err := cal.TradingDays("2024-03-04", "2024-03-08")
	require.NoError(t, err)
	require.Len(t, days, 1)

	// Later provider changes must not be visible within the same run.
	provider.SetCalendar("2024-03-04", "2024-03-05")
	days, err = cal.TradingDays("2024-03-04", "2024-03-08")
	require.NoError(t, err)
	assert.Len(t, days, 1)
}

func TestTradingDaysProviderError(t *testing.T) {
	cal, provider := newTestCalendar(t)
	provider.CalendarErr = errors.New("upstream down")

	_, err := cal.TradingDays("2024-03-04", "2024-03-08")
	assert.Error(t, err)
}

func TestIsTradingDay(t *testing.T) {
	cal, _ := newTestCalendar(t, "2024-03-04")

	assert.True(t, cal.IsTradingDay(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsTradingDay(time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)))
}

func TestIsTradingTime(t *testing.T) {
	cal, _ := newTestCalendar(t, "2024-03-04")

	cases := []struct {
		name string
		tod  string
		want bool
	}{
		{"morning session", "10:00:00", true},
		{"session open boundary", "09:30:00", true},
		{"lunch break", "12:00:00", false},
		{"afternoon session", "14:00:00", true},
		{"session close boundary", "15:00:00", true},
		{"after close", "15:01:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tod, err := core.ParseDayTime(tc.tod)
			require.NoError(t, err)
			dt := core.CombineDayTime(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), tod)
			assert.Equal(t, tc.want, cal.IsTradingTime(dt))
		})
	}
}

func TestIsTradingTimeOffCalendar(t *testing.T) {
	cal, _ := newTestCalendar(t, "2024-03-04")

	// In-session time of day on a non-trading day.
	assert.False(t, cal.IsTradingTime(time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)))
}
