package data

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"simtrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newCSVProvider(t *testing.T, files map[string]string) *CSVProvider {
	t.Helper()
	p, err := NewCSVProvider(writeDataDir(t, files), logging.NopLogger{})
	require.NoError(t, err)
	return p
}

func TestCSVCalendar(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "date\n2024-03-05\n2024-03-04\n2024-03-06\n",
	})

	days, err := p.GetTradingCalendar("2024-03-04", "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-04", "2024-03-05"}, days, "sorted and range-filtered")
}

func TestCSVCalendarMissing(t *testing.T) {
	_, err := NewCSVProvider(t.TempDir(), logging.NopLogger{})
	assert.Error(t, err)
}

func TestCSVCalendarBadDate(t *testing.T) {
	dir := writeDataDir(t, map[string]string{
		"calendar.csv": "2024-03-04\nnot-a-date\n",
	})
	_, err := NewCSVProvider(dir, logging.NopLogger{})
	assert.Error(t, err)
}

func TestCSVCurrentPricePicksLatestBarOnDate(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "2024-03-04\n",
		"600000.csv": "datetime,price,ask1,bid1\n" +
			"2024-03-04 09:30:00,10.00,10.01,9.99\n" +
			"2024-03-04 10:00:00,10.20,10.21,10.19\n" +
			"2024-03-04 14:00:00,10.50,,\n",
	})

	snap, err := p.GetCurrentPrice("600000", time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "10.2", snap.CurrentPrice.String())
	require.NotNil(t, snap.Ask1)
	assert.Equal(t, "10.21", snap.Ask1.String())

	// The 14:00 bar has empty quote columns.
	snap, err = p.GetCurrentPrice("600000", time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Nil(t, snap.Ask1)
}

func TestCSVCurrentPriceStaysOnRequestedDate(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "2024-03-04\n2024-03-05\n",
		"600000.csv":   "2024-03-04 14:00:00,10.50\n",
	})

	// The latest bar exists but belongs to the previous day.
	snap, err := p.GetCurrentPrice("600000", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCSVCurrentPriceBeforeFirstBar(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "2024-03-04\n",
		"600000.csv":   "2024-03-04 14:00:00,10.50\n",
	})

	snap, err := p.GetCurrentPrice("600000", time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCSVCurrentPriceUnknownSymbol(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "2024-03-04\n",
	})

	snap, err := p.GetCurrentPrice("999999", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCSVDailyBars(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "2024-03-04\n",
		"600000.csv":   "2024-03-04,10.50\n",
	})

	// Date-only bars answer any time of that day.
	snap, err := p.GetCurrentPrice("600000", time.Date(2024, 3, 4, 14, 55, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "10.5", snap.CurrentPrice.String())
}

func TestCSVSymbolInfo(t *testing.T) {
	p := newCSVProvider(t, map[string]string{
		"calendar.csv": "2024-03-04\n",
		"symbols.csv":  "symbol,name\n600000, Test Bank \n",
	})

	info, err := p.GetSymbolInfo("600000", "2024-03-04")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Test Bank", info.SymbolName)

	info, err = p.GetSymbolInfo("999999", "2024-03-04")
	require.NoError(t, err)
	assert.Nil(t, info)
}
