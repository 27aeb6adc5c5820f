package risk_test

import (
	"testing"

	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDailyLossGuardCoercesToHold(t *testing.T) {
	out := risk.DefaultConfig().Apply(
		risk.Proposal{Action: types.SignalBuy, Allocation: money.MustParse("0.5"), Symbol: "SPY"},
		risk.Context{StartingEquity: money.MustParse("100000"), CurrentEquity: money.MustParse("97000")},
	)
	assert.Equal(t, types.SignalHold, out.Action)
	assert.True(t, out.Allocation.IsZero())
	assert.NotEmpty(t, out.Reasons)
}

func TestVolatilityGuardHalvesAllocation(t *testing.T) {
	out := risk.DefaultConfig().Apply(
		risk.Proposal{Action: types.SignalBuy, Allocation: money.MustParse("0.5"), Symbol: "SPY"},
		risk.Context{StartingEquity: money.MustParse("100000"), CurrentEquity: money.MustParse("100000"), VolatilityIndex: money.MustParse("40")},
	)
	assert.Equal(t, types.SignalBuy, out.Action)
	assert.True(t, out.Allocation.Equal(money.MustParse("0.25")))
}

func TestConcentrationGuardCoercesToHold(t *testing.T) {
	out := risk.DefaultConfig().Apply(
		risk.Proposal{Action: types.SignalBuy, Allocation: money.MustParse("0.5"), Symbol: "SPY"},
		risk.Context{
			StartingEquity: money.MustParse("100000"), CurrentEquity: money.MustParse("100000"),
			NAV: money.MustParse("100000"), ExistingExposure: money.MustParse("40000"),
		},
	)
	assert.Equal(t, types.SignalHold, out.Action)
}

func TestNoGuardsTriggeredPassesThrough(t *testing.T) {
	out := risk.DefaultConfig().Apply(
		risk.Proposal{Action: types.SignalBuy, Allocation: money.MustParse("0.15"), Symbol: "SPY"},
		risk.Context{StartingEquity: money.MustParse("100000"), CurrentEquity: money.MustParse("100000"), NAV: money.MustParse("100000")},
	)
	assert.Equal(t, types.SignalBuy, out.Action)
	assert.True(t, out.Allocation.Equal(money.MustParse("0.15")))
	assert.Empty(t, out.Reasons)
}
