package maestro_test

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/internal/maestro"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	recs map[string]*identity.Record
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]*identity.Record{}}
}

func (m *memStore) LoadIdentity(ctx context.Context, agentID string) (*identity.Record, bool, error) {
	rec, ok := m.recs[agentID]
	if !ok {
		return nil, false, nil
	}
	return rec, true, nil
}

func (m *memStore) SaveIdentity(ctx context.Context, rec *identity.Record) error {
	m.recs[rec.AgentID] = rec
	return nil
}

func sharpe(v float64) *float64 { return &v }

func TestActiveTierKeepsFullAllocation(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
	}
	out, summary := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(1.2)}, nil)
	require.Contains(t, out, "agent-a")
	assert.Equal(t, types.SignalBuy, out["agent-a"].Kind)
	assert.True(t, out["agent-a"].Allocation.Equal(money.MustParse("0.4")))
	assert.NotEmpty(t, summary)
}

func TestShadowModeZeroesAllocation(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
	}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(0.2)}, nil)
	assert.True(t, out["agent-a"].Allocation.IsZero())
}

func TestReducedTierHalvesBaseAllocation(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
	}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(0.7)}, nil)
	assert.True(t, out["agent-a"].Allocation.Equal(money.MustParse("0.2")))
}

func TestUnknownSharpeDefaultsActive(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
	}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{}, nil)
	assert.True(t, out["agent-a"].Allocation.Equal(money.MustParse("0.4")))
}

func TestSystemicSellCascadeOverridesBuyToHold(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
		{AgentID: "agent-b", Kind: types.SignalSell, Confidence: money.MustParse("0.9"), BaseAllocation: money.MustParse("0.3")},
		{AgentID: "agent-c", Kind: types.SignalSell, Confidence: money.MustParse("0.9"), BaseAllocation: money.MustParse("0.3")},
		{AgentID: "agent-d", Kind: types.SignalSell, Confidence: money.MustParse("0.9"), BaseAllocation: money.MustParse("0.3")},
	}
	sharpes := map[string]*float64{"agent-a": sharpe(1.5), "agent-b": sharpe(1.5), "agent-c": sharpe(1.5), "agent-d": sharpe(1.5)}
	out, summary := o.Orchestrate(context.Background(), votes, sharpes, nil)
	assert.Equal(t, types.SignalHold, out["agent-a"].Kind)
	assert.True(t, out["agent-a"].Allocation.IsZero())
	assert.Equal(t, types.SignalSell, out["agent-b"].Kind)
	assert.Contains(t, summary, "Systemic")
}

func TestShortGammaRegimeScalesUpButCapsAtOne(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.9")},
	}
	regime := &types.MarketRegime{Regime: types.RegimeShortGamma}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(1.5)}, regime)
	assert.True(t, out["agent-a"].Allocation.Equal(money.FromInt(1)))
}

func TestLongGammaRegimeHalvesAllocation(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
	}
	regime := &types.MarketRegime{Regime: types.RegimeLongGamma}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(1.5)}, regime)
	assert.True(t, out["agent-a"].Allocation.Equal(money.MustParse("0.2")))
}

func TestHoldVotesAreNeverRegimeScaled(t *testing.T) {
	o := maestro.New(maestro.DefaultConfig(), nil, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalHold, Confidence: money.MustParse("0.5"), BaseAllocation: money.Zero},
	}
	regime := &types.MarketRegime{Regime: types.RegimeShortGamma}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(1.5)}, regime)
	assert.Equal(t, types.SignalHold, out["agent-a"].Kind)
	assert.True(t, out["agent-a"].Allocation.IsZero())
}

func TestOrchestrateWithIdentityVaultSignsWithoutError(t *testing.T) {
	vault := identity.New(zap.NewNop(), newMemStore())
	o := maestro.New(maestro.DefaultConfig(), vault, nil, zap.NewNop())
	votes := []maestro.RawVote{
		{AgentID: "agent-a", Kind: types.SignalBuy, Confidence: money.MustParse("0.8"), BaseAllocation: money.MustParse("0.4")},
	}
	out, _ := o.Orchestrate(context.Background(), votes, map[string]*float64{"agent-a": sharpe(1.5)}, nil)
	assert.Equal(t, types.SignalBuy, out["agent-a"].Kind)
	assert.Equal(t, "agent-a", out["agent-a"].Provenance.AgentID)
	assert.NotEmpty(t, out["agent-a"].Provenance.Nonce)
}
