// Package performance implements the rolling Sharpe tracker (C5): a
// 30-day FIFO-realized P&L series per {tenant, user, strategy}, with the
// mean/stddev arithmetic handed to gonum/stat rather than hand-rolled, the
// way aristath-sentinel's scoring package reaches for a numerical library
// instead of computing variance by hand.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"gonum.org/v1/gonum/stat"
)

const windowDays = 30

// tradingDaysPerYear annualizes the daily Sharpe ratio.
const tradingDaysPerYear = 252

// Lot is one FIFO-matched realized outcome, the unit the tracker ingests.
type Lot struct {
	RealizedPnL money.Money
	Day         time.Time
}

// Tracker maintains the rolling realized-P&L series and its derived Sharpe
// ratio for one {tenant, user, strategy}.
type Tracker struct {
	minDays int
	lots    []Lot
}

// New constructs a Tracker with the given min_days floor (default 5).
func New(minDays int) *Tracker {
	if minDays <= 0 {
		minDays = 5
	}
	return &Tracker{minDays: minDays}
}

// Ingest records a newly realized lot (produced by Realize) and evicts
// anything older than the 30-day window.
func (t *Tracker) Ingest(lot Lot) {
	t.lots = append(t.lots, lot)
	t.prune(time.Now())
}

func oppositeSide(side types.OrderSide) types.OrderSide {
	if side == types.SideBuy {
		return types.SideSell
	}
	return types.SideBuy
}

func realizedPnL(entry types.ShadowTrade, exitPrice money.Money) money.Money {
	if entry.Side == types.SideBuy {
		return exitPrice.Sub(entry.EntryPrice).Mul(entry.Quantity)
	}
	return entry.EntryPrice.Sub(exitPrice).Mul(entry.Quantity)
}

// Realize matches an incoming fill against already-open shadow trades for
// the same symbol on the opposite side, closing the earliest-opened
// eligible trade first (FIFO: "the lot ingested earliest is the lot
// realized first"). Each matched trade is closed in full against the fill
// price — this tracker does not split a trade across two partial exits, so
// a fill quantity smaller than the oldest open trade still closes that
// trade whole. remainingQty is whatever part of the fill quantity is left
// after every eligible open trade is consumed; the caller opens a new
// position with it rather than treating it as a close.
func Realize(open []types.ShadowTrade, symbol string, side types.OrderSide, quantity money.Money, price money.Money, day time.Time) (closed []types.ShadowTrade, lots []Lot, remainingQty money.Money) {
	opposite := oppositeSide(side)
	eligible := make([]types.ShadowTrade, 0, len(open))
	for _, t := range open {
		if t.Symbol == symbol && t.Side == opposite && t.Status == types.TradeOpen {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })

	remaining := quantity
	for _, t := range eligible {
		if !remaining.GreaterThan(money.Zero) {
			break
		}
		pnl := realizedPnL(t, price)
		t.CurrentPnL = pnl
		if notional := t.EntryPrice.Mul(t.Quantity); !notional.IsZero() {
			t.PnLPercent = pnl.MustDiv(notional.Abs()).Mul(money.FromInt(100))
		}
		t.CurrentPrice = price
		t.Status = types.TradeClosed
		t.LastUpdated = day

		closed = append(closed, t)
		lots = append(lots, Lot{RealizedPnL: pnl, Day: day})
		remaining = remaining.Sub(t.Quantity)
	}
	if remaining.IsNegative() {
		remaining = money.Zero
	}
	return closed, lots, remaining
}

func (t *Tracker) prune(now time.Time) {
	cutoff := now.AddDate(0, 0, -windowDays)
	kept := t.lots[:0]
	for _, l := range t.lots {
		if !l.Day.Before(cutoff) {
			kept = append(kept, l)
		}
	}
	t.lots = kept
}

// dailyReturns buckets realized P&L by calendar day, one populated point
// per day with at least one realized lot.
func (t *Tracker) dailyReturns() []float64 {
	byDay := make(map[string]money.Money)
	for _, l := range t.lots {
		key := l.Day.Format("2006-01-02")
		byDay[key] = byDay[key].Add(l.RealizedPnL)
	}
	returns := make([]float64, 0, len(byDay))
	for _, v := range byDay {
		returns = append(returns, v.InexactFloat64())
	}
	return returns
}

// Sharpe returns the annualized Sharpe ratio over the populated window, or
// nil if fewer than min_days populated daily points exist.
func (t *Tracker) Sharpe() *float64 {
	returns := t.dailyReturns()
	if len(returns) < t.minDays {
		return nil
	}
	mean := stat.Mean(returns, nil)
	stddev := stat.StdDev(returns, nil)
	if stddev == 0 {
		return nil
	}
	sharpe := (mean / stddev) * math.Sqrt(tradingDaysPerYear)
	return &sharpe
}

// Snapshot renders the tracker's current state as the persisted record.
func (t *Tracker) Snapshot(agentID string) types.StrategyPerformance {
	series := make([]money.Money, len(t.lots))
	for i, l := range t.lots {
		series[i] = l.RealizedPnL
	}
	return types.StrategyPerformance{
		AgentID:           agentID,
		RealizedPnLSeries: series,
		DailyReturns:      t.dailyReturns(),
		Sharpe:            t.Sharpe(),
		UpdatedAt:         time.Now(),
	}
}
