package performance_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/performance"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharpeNilBelowMinDays(t *testing.T) {
	tr := performance.New(5)
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.Ingest(performance.Lot{RealizedPnL: money.MustParse("10"), Day: now.AddDate(0, 0, -i)})
	}
	assert.Nil(t, tr.Sharpe())
}

func TestSharpeComputedWithVaryingReturns(t *testing.T) {
	tr := performance.New(5)
	now := time.Now()
	amounts := []string{"10", "-5", "8", "12", "-3", "6", "9", "11", "-2", "7"}
	for i, amt := range amounts {
		tr.Ingest(performance.Lot{RealizedPnL: money.MustParse(amt), Day: now.AddDate(0, 0, -i)})
	}
	sharpe := tr.Sharpe()
	require.NotNil(t, sharpe)
}

func TestIngestPrunesOutsideWindow(t *testing.T) {
	tr := performance.New(1)
	now := time.Now()
	tr.Ingest(performance.Lot{RealizedPnL: money.MustParse("5"), Day: now.AddDate(0, 0, -45)})
	snap := tr.Snapshot("agent-1")
	assert.Empty(t, snap.RealizedPnLSeries, "lots older than the 30-day window must be evicted")
}
