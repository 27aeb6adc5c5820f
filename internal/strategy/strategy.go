// Package strategy implements the static Strategy Registry (C3): a
// compile-time keyed set of agent constructors, no filesystem or plugin
// discovery, generalized from the teacher's name->factory registry.
package strategy

import (
	"context"
	"sync"

	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Input is the read-only market context a Strategy evaluates each tick.
type Input struct {
	Quote   types.Quote
	Account types.AccountSnapshot
	Regime  *types.MarketRegime // nil if the regime engine has no data yet
}

// Strategy is the capability every registered agent implements: evaluate a
// market snapshot and produce a directional opinion.
type Strategy interface {
	Kind() string
	Evaluate(ctx context.Context, in Input) (types.SignalKind, money.Money, error)
}

// Constructor builds a fresh Strategy instance bound to a specific
// agent_id (distinct agents can share a Kind with different parameters).
type Constructor func(agentID string) Strategy

// Registry is read-only after startup (§5); concurrent Create calls from
// the per-tick fan-out require only a read lock.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry builds a Registry pre-seeded with the built-in agent kinds.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("momentum", NewMomentum)
	r.Register("mean_reversion", NewMeanReversion)
	r.Register("breakout", NewBreakout)
	r.Register("trend_following", NewTrendFollowing)
	return r
}

// Register binds a Kind to a Constructor. The first registration for a
// given kind wins; a later attempt to re-register the same kind is logged
// by the caller and skipped (matches the teacher's map-assignment
// registry, generalized to reject silent overwrite).
func (r *Registry) Register(kind string, ctor Constructor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[kind]; exists {
		return false
	}
	r.constructors[kind] = ctor
	return true
}

// Create instantiates a Strategy of the given kind bound to agentID.
func (r *Registry) Create(kind, agentID string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[kind]
	if !ok {
		return nil, false
	}
	return ctor(agentID), true
}

// Kinds lists every registered strategy kind.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	return kinds
}

// base carries the fields every built-in agent shares.
type base struct {
	agentID string
}

// --- momentum -----------------------------------------------------------

// momentum buys when last trades above the current quote's bid/ask
// midpoint by more than threshold, sells on the symmetric downside breach.
type momentum struct {
	base
	threshold money.Money
}

// NewMomentum constructs the momentum agent with the teacher's default 2%
// threshold, expressed in decimal money instead of a raw float.
func NewMomentum(agentID string) Strategy {
	return &momentum{base: base{agentID: agentID}, threshold: money.MustParse("0.02")}
}

func (m *momentum) Kind() string { return "momentum" }

func (m *momentum) Evaluate(_ context.Context, in Input) (types.SignalKind, money.Money, error) {
	mid := in.Quote.Mid()
	if mid.IsZero() {
		return types.SignalHold, money.Zero, nil
	}
	delta := in.Quote.Last.Sub(mid).MustDiv(mid)
	switch {
	case delta.GreaterThan(m.threshold):
		return types.SignalBuy, clampUnit(delta.MustDiv(m.threshold)), nil
	case delta.LessThan(m.threshold.Neg()):
		return types.SignalSell, clampUnit(delta.Abs().MustDiv(m.threshold)), nil
	default:
		return types.SignalHold, money.Zero, nil
	}
}

// --- mean reversion -------------------------------------------------------

// meanReversion fades moves away from the quoted mid, the opposite read of
// momentum on the same inputs.
type meanReversion struct {
	base
	threshold money.Money
}

func NewMeanReversion(agentID string) Strategy {
	return &meanReversion{base: base{agentID: agentID}, threshold: money.MustParse("0.015")}
}

func (m *meanReversion) Kind() string { return "mean_reversion" }

func (m *meanReversion) Evaluate(_ context.Context, in Input) (types.SignalKind, money.Money, error) {
	mid := in.Quote.Mid()
	if mid.IsZero() {
		return types.SignalHold, money.Zero, nil
	}
	delta := in.Quote.Last.Sub(mid).MustDiv(mid)
	switch {
	case delta.GreaterThan(m.threshold):
		return types.SignalSell, clampUnit(delta.MustDiv(m.threshold)), nil
	case delta.LessThan(m.threshold.Neg()):
		return types.SignalBuy, clampUnit(delta.Abs().MustDiv(m.threshold)), nil
	default:
		return types.SignalHold, money.Zero, nil
	}
}

// --- breakout -------------------------------------------------------------

// breakout votes BUY when the spread is unusually wide relative to last
// (a proxy, absent bar history, for a volatility breakout) and the
// regime confirms SHORT_GAMMA; otherwise HOLD.
type breakout struct {
	base
	spreadThreshold money.Money
}

func NewBreakout(agentID string) Strategy {
	return &breakout{base: base{agentID: agentID}, spreadThreshold: money.MustParse("0.01")}
}

func (b *breakout) Kind() string { return "breakout" }

func (b *breakout) Evaluate(_ context.Context, in Input) (types.SignalKind, money.Money, error) {
	if in.Quote.Last.IsZero() {
		return types.SignalHold, money.Zero, nil
	}
	spreadPct := in.Quote.Ask.Sub(in.Quote.Bid).MustDiv(in.Quote.Last)
	if spreadPct.LessThan(b.spreadThreshold) {
		return types.SignalHold, money.Zero, nil
	}
	if in.Regime != nil && in.Regime.Regime == types.RegimeShortGamma {
		return types.SignalBuy, clampUnit(spreadPct.MustDiv(b.spreadThreshold)), nil
	}
	return types.SignalHold, money.Zero, nil
}

// --- trend following -------------------------------------------------------

// trendFollowing votes with the regime: LONG_GAMMA favors fading moves
// (mean-reverting dealer hedging), SHORT_GAMMA favors extending them.
type trendFollowing struct {
	base
}

func NewTrendFollowing(agentID string) Strategy {
	return &trendFollowing{base: base{agentID: agentID}}
}

func (t *trendFollowing) Kind() string { return "trend_following" }

func (t *trendFollowing) Evaluate(_ context.Context, in Input) (types.SignalKind, money.Money, error) {
	if in.Regime == nil {
		return types.SignalHold, money.Zero, nil
	}
	mid := in.Quote.Mid()
	if mid.IsZero() {
		return types.SignalHold, money.Zero, nil
	}
	rising := in.Quote.Last.GreaterThan(mid)
	switch in.Regime.Regime {
	case types.RegimeShortGamma:
		if rising {
			return types.SignalBuy, money.MustParse("0.6"), nil
		}
		return types.SignalSell, money.MustParse("0.6"), nil
	case types.RegimeLongGamma:
		if rising {
			return types.SignalSell, money.MustParse("0.4"), nil
		}
		return types.SignalBuy, money.MustParse("0.4"), nil
	default:
		return types.SignalHold, money.Zero, nil
	}
}

func clampUnit(m money.Money) money.Money {
	one := money.FromInt(1)
	if m.GreaterThan(one) {
		return one
	}
	if m.IsNegative() {
		return money.Zero
	}
	return m
}
