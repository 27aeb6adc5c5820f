package watchdog_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/watchdog"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	trades      []types.ShadowTrade
	trippedBy   string
	events      []types.WatchdogEvent
	alerts      []types.Alert
}

func (f *fakeStore) ListRecentShadowTrades(ctx context.Context, tid, uid string, since time.Time) ([]types.ShadowTrade, error) {
	return f.trades, nil
}
func (f *fakeStore) TripKillSwitch(ctx context.Context, tid, uid, disabledBy, reason string) error {
	f.trippedBy = disabledBy
	return nil
}
func (f *fakeStore) PutAlert(ctx context.Context, tid, uid string, alert types.Alert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}
func (f *fakeStore) PutWatchdogEvent(ctx context.Context, tid, uid string, ev types.WatchdogEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func losingTrade(pnl string) types.ShadowTrade {
	return types.ShadowTrade{Side: types.SideBuy, CurrentPnL: money.MustParse(pnl), PnLPercent: money.MustParse("-1")}
}

func TestLosingStreakTripsKillSwitch(t *testing.T) {
	store := &fakeStore{trades: []types.ShadowTrade{
		losingTrade("-30"), losingTrade("-30"), losingTrade("-30"), losingTrade("-30"), losingTrade("-30"),
	}}
	w := watchdog.New(zap.NewNop(), store, nil, watchdog.DefaultConfig())
	report, err := w.Scan(context.Background(), "t1", "u1", nil)
	require.NoError(t, err)
	assert.True(t, report.KillSwitchTripped)
	assert.Equal(t, "watchdog", store.trippedBy)
}

func TestLosingStreakBelowCumulativeLossThresholdDoesNotTrip(t *testing.T) {
	store := &fakeStore{trades: []types.ShadowTrade{
		losingTrade("-1"), losingTrade("-1"), losingTrade("-1"), losingTrade("-1"), losingTrade("-1"),
	}}
	w := watchdog.New(zap.NewNop(), store, nil, watchdog.DefaultConfig())
	report, err := w.Scan(context.Background(), "t1", "u1", nil)
	require.NoError(t, err)
	assert.False(t, report.KillSwitchTripped)
}

func TestWinningTradesNeverTripLosingStreak(t *testing.T) {
	store := &fakeStore{trades: []types.ShadowTrade{
		{CurrentPnL: money.MustParse("10"), PnLPercent: money.MustParse("1")},
		{CurrentPnL: money.MustParse("10"), PnLPercent: money.MustParse("1")},
		{CurrentPnL: money.MustParse("10"), PnLPercent: money.MustParse("1")},
		{CurrentPnL: money.MustParse("10"), PnLPercent: money.MustParse("1")},
		{CurrentPnL: money.MustParse("10"), PnLPercent: money.MustParse("1")},
	}}
	w := watchdog.New(zap.NewNop(), store, nil, watchdog.DefaultConfig())
	report, err := w.Scan(context.Background(), "t1", "u1", nil)
	require.NoError(t, err)
	assert.False(t, report.KillSwitchTripped)
}

func TestRapidDrawdownTripsKillSwitch(t *testing.T) {
	store := &fakeStore{trades: []types.ShadowTrade{
		{CurrentPnL: money.MustParse("1000"), PnLPercent: money.MustParse("1")},
		{CurrentPnL: money.MustParse("-200"), PnLPercent: money.MustParse("-1")},
	}}
	w := watchdog.New(zap.NewNop(), store, nil, watchdog.DefaultConfig())
	report, err := w.Scan(context.Background(), "t1", "u1", nil)
	require.NoError(t, err)
	assert.True(t, report.KillSwitchTripped)
}

func TestMarketMismatchLogsOnlyNeverTrips(t *testing.T) {
	store := &fakeStore{trades: []types.ShadowTrade{
		{Side: types.SideBuy, CurrentPnL: money.MustParse("5"), PnLPercent: money.MustParse("1")},
		{Side: types.SideBuy, CurrentPnL: money.MustParse("5"), PnLPercent: money.MustParse("1")},
		{Side: types.SideBuy, CurrentPnL: money.MustParse("5"), PnLPercent: money.MustParse("1")},
	}}
	regime := &types.MarketRegime{Regime: types.RegimeShortGamma}
	w := watchdog.New(zap.NewNop(), store, nil, watchdog.DefaultConfig())
	report, err := w.Scan(context.Background(), "t1", "u1", regime)
	require.NoError(t, err)
	assert.False(t, report.KillSwitchTripped)
	require.Len(t, report.Events, 1)
	assert.Equal(t, "market_mismatch", report.Events[0].AnomalyType)
}

func TestEmptyTradeHistoryProducesNoEvents(t *testing.T) {
	store := &fakeStore{}
	w := watchdog.New(zap.NewNop(), store, nil, watchdog.DefaultConfig())
	report, err := w.Scan(context.Background(), "t1", "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, report.Events)
	assert.False(t, report.KillSwitchTripped)
}
