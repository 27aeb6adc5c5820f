// Package watchdog implements the Operational Watchdog (C12): three
// anomaly detectors over a user's recent trade history, two of which
// (losing streak, rapid drawdown) trip a one-way kill-switch. Grounded
// on the same rolling-window scan the Performance Tracker uses, narrowed
// to anomaly classification instead of Sharpe statistics.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-core/internal/llm"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// Store is the persistence boundary the watchdog depends on.
type Store interface {
	ListRecentShadowTrades(ctx context.Context, tid, uid string, since time.Time) ([]types.ShadowTrade, error)
	TripKillSwitch(ctx context.Context, tid, uid, disabledBy, reason string) error
	PutAlert(ctx context.Context, tid, uid string, alert types.Alert) error
	PutWatchdogEvent(ctx context.Context, tid, uid string, ev types.WatchdogEvent) error
}

const window = 10 * time.Minute

// Watchdog scans recent trade history for three anomaly types.
type Watchdog struct {
	logger *zap.Logger
	store  Store
	llm    llm.Client
	config types.WatchdogConfig
}

// DefaultConfig returns the spec's defaults: 5-trade losing streak, 5%
// rapid drawdown, and a 3-signal market mismatch count, all over 10 min.
func DefaultConfig() types.WatchdogConfig {
	return types.WatchdogConfig{
		LosingStreakThreshold:  5,
		LosingStreakMinCumLoss: money.MustParse("100"),
		RapidDrawdownPct:       money.MustParse("0.05"),
		RapidDrawdownWindow:    10,
		MarketMismatchBuyCount: 3,
		LookbackWindowMinutes:  10,
	}
}

// New constructs a Watchdog.
func New(logger *zap.Logger, store Store, llmClient llm.Client, config types.WatchdogConfig) *Watchdog {
	return &Watchdog{logger: logger, store: store, llm: llmClient, config: config}
}

// Report summarizes what Scan found for one user.
type Report struct {
	KillSwitchTripped bool
	Events            []types.WatchdogEvent
}

// Scan loads the last window of trades and checks all three anomaly
// types. Losing Streak and Rapid Drawdown trip the kill-switch; Market
// Mismatch is logged only.
func (w *Watchdog) Scan(ctx context.Context, tid, uid string, currentRegime *types.MarketRegime) (Report, error) {
	since := time.Now().Add(-window)
	trades, err := w.store.ListRecentShadowTrades(ctx, tid, uid, since)
	if err != nil {
		return Report{}, err
	}

	var report Report

	if ev, tripped := w.checkLosingStreak(trades); ev != nil {
		report.Events = append(report.Events, *ev)
		if tripped {
			report.KillSwitchTripped = true
		}
	}
	if ev, tripped := w.checkRapidDrawdown(trades); ev != nil {
		report.Events = append(report.Events, *ev)
		if tripped {
			report.KillSwitchTripped = true
		}
	}
	if ev := w.checkMarketMismatch(trades, currentRegime); ev != nil {
		report.Events = append(report.Events, *ev)
	}

	for i := range report.Events {
		ev := &report.Events[i]
		ev.Explanation = llm.GenerateOrFallback(ctx, w.llm, w.logger,
			fmt.Sprintf("Explain this trading anomaly in one sentence: %s (severity %s)", ev.AnomalyType, ev.Severity),
			func() string { return fmt.Sprintf("%s detected at %s severity.", ev.AnomalyType, ev.Severity) },
		)
		if err := w.store.PutWatchdogEvent(ctx, tid, uid, *ev); err != nil {
			w.logger.Warn("failed to persist watchdog event", zap.Error(err))
		}
		if ev.KillSwitchActivated {
			if err := w.store.TripKillSwitch(ctx, tid, uid, "watchdog", ev.AnomalyType); err != nil {
				w.logger.Error("failed to trip kill switch", zap.String("tid", tid), zap.String("uid", uid), zap.Error(err))
			}
			if err := w.store.PutAlert(ctx, tid, uid, types.Alert{
				Type:     ev.AnomalyType,
				Severity: types.SeverityCritical,
				Title:    "Trading halted by watchdog",
				Message:  ev.Explanation,
				TS:       time.Now(),
			}); err != nil {
				w.logger.Warn("failed to persist alert", zap.Error(err))
			}
		}
	}

	return report, nil
}

// checkLosingStreak looks for k consecutive losing trades (most recent
// first) whose cumulative loss meets the minimum threshold.
func (w *Watchdog) checkLosingStreak(trades []types.ShadowTrade) (*types.WatchdogEvent, bool) {
	k := w.config.LosingStreakThreshold
	if k <= 0 || len(trades) < k {
		return nil, false
	}
	tail := trades[len(trades)-k:]
	cumLoss := money.Zero
	for _, t := range tail {
		if !t.PnLPercent.IsNegative() {
			return nil, false
		}
		cumLoss = cumLoss.Add(t.CurrentPnL)
	}
	if cumLoss.Abs().LessThan(w.config.LosingStreakMinCumLoss) {
		return nil, false
	}
	return &types.WatchdogEvent{
		AnomalyType:         "losing_streak",
		Severity:            types.SeverityCritical,
		KillSwitchActivated: true,
		TS:                  time.Now(),
	}, true
}

// checkRapidDrawdown compares the highest and lowest trade CurrentPnL in
// the window, whichever came first, and trips when (peak - trough)/|peak|
// exceeds the configured percent. It reads trade P&L only, not account
// equity.
func (w *Watchdog) checkRapidDrawdown(trades []types.ShadowTrade) (*types.WatchdogEvent, bool) {
	if len(trades) < 2 {
		return nil, false
	}
	peak := trades[0].CurrentPnL
	trough := trades[0].CurrentPnL
	for _, t := range trades {
		if t.CurrentPnL.GreaterThan(peak) {
			peak = t.CurrentPnL
		}
		if t.CurrentPnL.LessThan(trough) {
			trough = t.CurrentPnL
		}
	}
	if peak.IsZero() {
		return nil, false
	}
	drop := peak.Sub(trough).MustDiv(peak.Abs())
	if drop.LessOrEqual(w.config.RapidDrawdownPct) {
		return nil, false
	}
	return &types.WatchdogEvent{
		AnomalyType:         "rapid_drawdown",
		Severity:            types.SeverityHigh,
		KillSwitchActivated: true,
		TS:                  time.Now(),
	}, true
}

// checkMarketMismatch flags 3+ BUY-side trades in the window when the
// current regime is SHORT_GAMMA (treated as the bearish/inverse regime for
// equities); the regime at each trade's open is not checked. Log only;
// never trips the kill-switch.
func (w *Watchdog) checkMarketMismatch(trades []types.ShadowTrade, regime *types.MarketRegime) *types.WatchdogEvent {
	if regime == nil || regime.Regime != types.RegimeShortGamma {
		return nil
	}
	count := 0
	for _, t := range trades {
		if t.Side == types.SideBuy {
			count++
		}
	}
	if count < w.config.MarketMismatchBuyCount {
		return nil
	}
	return &types.WatchdogEvent{
		AnomalyType:         "market_mismatch",
		Severity:            types.SeverityMedium,
		KillSwitchActivated: false,
		TS:                  time.Now(),
	}
}
