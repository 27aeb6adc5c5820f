// Package maestro implements the Maestro Orchestrator (C6), the hardest
// single component: Sharpe-tiered allocation weighting, systemic-sell
// override, identity enrichment, and regime-aware allocation capping.
// Generalized from the teacher's orchestrator event-driven wiring, which
// is replaced here with a deterministic single-pass vote pipeline.
package maestro

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/internal/llm"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// RawVote is one strategy's un-weighted opinion before Maestro runs.
type RawVote struct {
	AgentID        string
	Kind           types.SignalKind
	Confidence     money.Money
	BaseAllocation money.Money
}

// Config holds the Sharpe tiers and the systemic-sell override threshold.
type Config struct {
	Tiers    types.SharpeTiers
	Systemic types.SystemicRiskConfig
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		Tiers:    types.SharpeTiers{ReduceBelow: 1.0, ShadowModeBelow: 0.5, MinSampleDays: 5},
		Systemic: types.SystemicRiskConfig{SellVoteThreshold: 3},
	}
}

// Orchestrator runs the five-step Maestro algorithm.
type Orchestrator struct {
	config   Config
	identity *identity.Vault
	llm      llm.Client
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(config Config, vault *identity.Vault, llmClient llm.Client, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{config: config, identity: vault, llm: llmClient, logger: logger}
}

// regimeMultiplier returns the allocation multiplier step 4 applies inside
// evaluate; Maestro re-derives it here since the built-in strategies do not
// self-apply it, and caps the resulting product at 1.0.
func regimeMultiplier(regime *types.MarketRegime) money.Money {
	if regime == nil {
		return money.FromInt(1)
	}
	switch regime.Regime {
	case types.RegimeShortGamma:
		return money.MustParse("1.5")
	case types.RegimeLongGamma:
		return money.MustParse("0.5")
	default:
		return money.FromInt(1)
	}
}

// Orchestrate runs allocation weighting, systemic-sell override, identity
// enrichment, and regime capping over votes, returning the orchestrated
// signal set keyed by agent_id (preserving the input keys) plus an
// advisory summary sentence.
func (o *Orchestrator) Orchestrate(ctx context.Context, votes []RawVote, sharpeByAgent map[string]*float64, regime *types.MarketRegime) (map[string]types.Vote, string) {
	sorted := make([]RawVote, len(votes))
	copy(sorted, votes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	out := make(map[string]types.Vote, len(sorted))
	reasons := make(map[string]string, len(sorted))

	sellCount := 0
	for _, v := range sorted {
		if v.Kind == types.SignalSell {
			sellCount++
		}
	}
	systemicOverride := sellCount >= o.config.Systemic.SellVoteThreshold

	mult := regimeMultiplier(regime)
	for _, v := range sorted {
		mode, allocation := o.tier(v.AgentID, v.BaseAllocation, sharpeByAgent[v.AgentID])

		kind := v.Kind
		if systemicOverride && kind == types.SignalBuy {
			kind = types.SignalHold
			allocation = money.Zero
			reasons[v.AgentID] = "systemic_sell_cascade"
		}

		if kind != types.SignalHold {
			allocation = capUnit(allocation.Mul(mult))
		}

		weight := weightForMode(mode)
		vote := types.Vote{
			AgentID:    v.AgentID,
			Kind:       kind,
			Confidence: v.Confidence,
			Weight:     weight,
			Allocation: allocation,
		}

		if o.identity != nil {
			signed, err := o.identity.Sign(ctx, v.AgentID, map[string]any{
				"kind":       string(kind),
				"allocation": allocation.String(),
			})
			if err != nil {
				o.logger.Warn("identity enrichment failed", zap.String("agentId", v.AgentID), zap.Error(err))
			} else {
				vote.Provenance = types.AgentProvenance{
					AgentID:  v.AgentID,
					Nonce:    signed.Nonce,
					SignedAt: time.Now(),
				}
			}
		}

		out[v.AgentID] = vote
	}

	summary := o.summarize(ctx, sorted, reasons, systemicOverride)
	return out, summary
}

func (o *Orchestrator) tier(agentID string, base money.Money, sharpe *float64) (types.StrategyMode, money.Money) {
	if sharpe == nil {
		return types.ModeActive, base
	}
	switch {
	case *sharpe >= o.config.Tiers.ReduceBelow:
		return types.ModeActive, base
	case *sharpe >= o.config.Tiers.ShadowModeBelow:
		return types.ModeReduced, base.Mul(money.MustParse("0.5"))
	default:
		return types.ModeShadowMode, money.Zero
	}
}

func weightForMode(mode types.StrategyMode) money.Money {
	switch mode {
	case types.ModeActive:
		return money.FromInt(1)
	case types.ModeReduced:
		return money.MustParse("0.5")
	default:
		return money.Zero
	}
}

func capUnit(m money.Money) money.Money {
	one := money.FromInt(1)
	if m.GreaterThan(one) {
		return one
	}
	if m.IsNegative() {
		return money.Zero
	}
	return m
}

// summarize calls the LLM for a human-readable decision sentence, falling
// back to a deterministic template built from the vote table.
func (o *Orchestrator) summarize(ctx context.Context, votes []RawVote, overrideReasons map[string]string, systemic bool) string {
	fallback := func() string {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("Evaluated %d strateg(y/ies).", len(votes)))
		if systemic {
			b.WriteString(" Systemic sell cascade detected: BUY votes overridden to HOLD.")
		}
		return b.String()
	}

	if o.llm == nil {
		return fallback()
	}
	var prompt strings.Builder
	prompt.WriteString("Summarize this tick's trading decisions in one sentence:\n")
	for _, v := range votes {
		prompt.WriteString(fmt.Sprintf("- %s: %s (confidence %s)\n", v.AgentID, v.Kind, v.Confidence))
	}
	return llm.GenerateOrFallback(ctx, o.llm, o.logger, prompt.String(), fallback)
}
