// Package risk implements the Risk Circuit Breaker (C8): three stateless
// guards applied in order to a post-consensus signal, adapted from the
// violation-accumulation style of the teacher's risk manager and narrowed
// to the three guards this domain calls for.
package risk

import (
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Config holds the three guards' thresholds.
type Config struct {
	MaxDailyLossPct     money.Money // L_day, default 0.02
	VolatilityThreshold money.Money // default 30
	VolatilityDampen    money.Money // default 0.5
	MaxConcentrationPct money.Money // default 0.20
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDailyLossPct:     money.MustParse("0.02"),
		VolatilityThreshold: money.MustParse("30"),
		VolatilityDampen:    money.MustParse("0.5"),
		MaxConcentrationPct: money.MustParse("0.20"),
	}
}

// Proposal is the signal under evaluation after consensus, before the
// Shadow Executor.
type Proposal struct {
	Action     types.SignalKind
	Allocation money.Money
	Symbol     string
}

// Context is the account/market state the guards read.
type Context struct {
	StartingEquity   money.Money
	CurrentEquity    money.Money
	VolatilityIndex  money.Money
	ExistingExposure money.Money // current notional held in Proposal.Symbol
	NAV              money.Money
}

// Outcome is the guard-adjusted proposal plus the audit trail of reasons.
type Outcome struct {
	Action     types.SignalKind
	Allocation money.Money
	Reasons    []string
}

// Apply runs the Daily Loss, Volatility, and Concentration guards in order.
func (c Config) Apply(p Proposal, ctx Context) Outcome {
	out := Outcome{Action: p.Action, Allocation: p.Allocation}

	if dailyLossBreached(ctx, c.MaxDailyLossPct) {
		out.Action = types.SignalHold
		out.Allocation = money.Zero
		out.Reasons = append(out.Reasons, "daily loss guard: drawdown exceeds limit")
	}

	if ctx.VolatilityIndex.GreaterThan(c.VolatilityThreshold) {
		out.Allocation = out.Allocation.Mul(c.VolatilityDampen)
		out.Reasons = append(out.Reasons, "volatility guard: allocation halved")
	}

	if out.Action != types.SignalHold && exceedsConcentration(ctx, out.Allocation, c.MaxConcentrationPct) {
		out.Action = types.SignalHold
		out.Allocation = money.Zero
		out.Reasons = append(out.Reasons, "concentration guard: position would exceed NAV limit")
	}

	return out
}

func dailyLossBreached(ctx Context, limit money.Money) bool {
	if ctx.StartingEquity.IsZero() {
		return false
	}
	drawdown := ctx.CurrentEquity.Sub(ctx.StartingEquity).MustDiv(ctx.StartingEquity)
	return drawdown.LessThan(limit.Neg())
}

func exceedsConcentration(ctx Context, proposedAllocation money.Money, maxConc money.Money) bool {
	if ctx.NAV.IsZero() {
		return false
	}
	proposedNotional := ctx.NAV.Mul(proposedAllocation)
	projected := ctx.ExistingExposure.Add(proposedNotional)
	weight := projected.MustDiv(ctx.NAV)
	return weight.GreaterThan(maxConc)
}
