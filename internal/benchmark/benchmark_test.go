package benchmark

import (
	"testing"
	"time"

	"simtrader/internal/core"
	"simtrader/internal/mock"
	"simtrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestInitializeAnchorsAtStartDate(t *testing.T) {
	provider := mock.NewProvider()
	provider.SetSimplePrice("000300", 3500)
	provider.SetInfo("000300", &core.SymbolInfo{SymbolName: "CSI 300"})

	tr := NewTracker("000300", "", provider, logging.NopLogger{})
	tr.Initialize("2024-03-04", d(1000000))

	assert.True(t, tr.Enabled())
	assert.Equal(t, "CSI 300", tr.Name(), "name comes from the provider when available")
	assert.True(t, tr.InitialValue().Equal(d(3500)))
}

func TestInitializeWithoutSymbolDisables(t *testing.T) {
	tr := NewTracker("", "", mock.NewProvider(), logging.NopLogger{})
	tr.Initialize("2024-03-04", d(1000000))

	assert.False(t, tr.Enabled())

	// Updates on a disabled tracker are no-ops.
	tr.UpdateDaily(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC))
	assert.Empty(t, tr.History())
}

func TestInitializeWithoutAnchorPriceDisables(t *testing.T) {
	tr := NewTracker("000300", "", mock.NewProvider(), logging.NopLogger{})
	tr.Initialize("2024-03-04", d(1000000))

	assert.False(t, tr.Enabled())
}

func TestUpdateDailyComputesReturnAndValue(t *testing.T) {
	provider := mock.NewProvider()
	provider.SetSimplePrice("000300", 3500)

	tr := NewTracker("000300", "", provider, logging.NopLogger{})
	tr.Initialize("2024-03-04", d(1000000))

	provider.SetSimplePrice("000300", 3570)
	tr.UpdateDaily(time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC))

	rows := tr.History()
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-03-04", rows[0].Date)
	assert.True(t, rows[0].Returns.Equal(d(0.02)), "(3570-3500)/3500")
	assert.True(t, rows[0].Value.Equal(d(1020000)))
}

func TestUpdateDailySkipsMissingPrice(t *testing.T) {
	provider := mock.NewProvider()
	provider.SetSimplePrice("000300", 3500)

	tr := NewTracker("000300", "", provider, logging.NopLogger{})
	tr.Initialize("2024-03-04", d(1000000))

	provider.SetDefaultPrice("000300", nil)
	tr.UpdateDaily(time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC))

	assert.Empty(t, tr.History())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	provider := mock.NewProvider()
	provider.SetSimplePrice("000300", 3500)

	tr := NewTracker("000300", "CSI 300", provider, logging.NopLogger{})
	tr.Initialize("2024-03-04", d(1000000))
	tr.UpdateDaily(time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC))

	state := tr.Snapshot()

	restored := NewTracker("", "", provider, logging.NopLogger{})
	restored.Restore(state, d(1000000))

	assert.True(t, restored.Enabled())
	assert.Equal(t, "000300", restored.Symbol())
	require.Len(t, restored.History(), 1)
}

func TestTruncateHistoryBefore(t *testing.T) {
	tr := NewTracker("000300", "", mock.NewProvider(), logging.NopLogger{})
	tr.AppendHistory(Row{Date: "2024-03-01"})
	tr.AppendHistory(Row{Date: "2024-03-04"})

	tr.TruncateHistoryBefore("2024-03-04")

	rows := tr.History()
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-03-01", rows[0].Date)
}
