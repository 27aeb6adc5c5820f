// Package consensus implements the Consensus Engine (C7): weighted-vote
// scoring and Shannon-entropy discordance over a strategy vote set,
// generalized from the weighted-average aggregation already present in
// the teacher's signal aggregator.
package consensus

import (
	"math"

	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Config holds the engine's execution gate threshold.
type Config struct {
	ExecuteThreshold money.Money
}

// DefaultConfig returns the spec's default 0.7 execution threshold.
func DefaultConfig() Config {
	return Config{ExecuteThreshold: money.MustParse("0.7")}
}

// Result is the scored outcome of one consensus pass.
type Result struct {
	FinalAction   types.SignalKind
	Score         money.Money
	Discordance   money.Money
	ShouldExecute bool
}

// precedence breaks ties in favor of not trading: HOLD > SELL > BUY.
var precedence = map[types.SignalKind]int{
	types.SignalHold: 2,
	types.SignalSell: 1,
	types.SignalBuy:  0,
}

// scoredActions is the fixed action universe the engine scores over.
var scoredActions = []types.SignalKind{types.SignalBuy, types.SignalSell, types.SignalHold}

// Score runs the deterministic, single-pass consensus algorithm over votes.
func (c Config) Score(votes []types.Vote) Result {
	if len(votes) == 0 {
		return Result{FinalAction: types.SignalHold, Score: money.Zero, Discordance: money.Zero}
	}

	totalWeight := money.Zero
	weightedByAction := map[types.SignalKind]money.Money{}
	countByAction := map[types.SignalKind]int{}
	for _, v := range votes {
		totalWeight = totalWeight.Add(v.Weight)
		weightedByAction[v.Kind] = weightedByAction[v.Kind].Add(v.Weight.Mul(v.Confidence))
		countByAction[v.Kind]++
	}

	scores := map[types.SignalKind]money.Money{}
	for _, a := range scoredActions {
		if totalWeight.IsZero() {
			scores[a] = money.Zero
			continue
		}
		scores[a] = weightedByAction[a].MustDiv(totalWeight)
	}

	final := argmaxWithPrecedence(scores)
	discordance := shannonDiscordance(countByAction)

	consensusScore := scores[final]
	shouldExecute := consensusScore.GreaterOrEqual(c.ExecuteThreshold) && final != types.SignalHold

	return Result{
		FinalAction:   final,
		Score:         consensusScore,
		Discordance:   discordance,
		ShouldExecute: shouldExecute,
	}
}

// argmaxWithPrecedence picks the highest-scoring action, breaking exact
// ties by the fail-safe precedence HOLD > SELL > BUY.
func argmaxWithPrecedence(scores map[types.SignalKind]money.Money) types.SignalKind {
	best := scoredActions[0]
	for _, a := range scoredActions[1:] {
		switch {
		case scores[a].GreaterThan(scores[best]):
			best = a
		case scores[a].Equal(scores[best]) && precedence[a] > precedence[best]:
			best = a
		}
	}
	return best
}

// shannonDiscordance normalizes entropy over the distinct-action count
// distribution to [0,1]: 0 for unanimity, 1 for maximum disagreement.
func shannonDiscordance(countByAction map[types.SignalKind]int) money.Money {
	distinct := 0
	total := 0
	for _, n := range countByAction {
		if n > 0 {
			distinct++
			total += n
		}
	}
	if distinct <= 1 {
		return money.Zero
	}
	var entropy float64
	for _, n := range countByAction {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}
	normalized := entropy / math.Log2(float64(distinct))
	return clampUnitFloat(normalized)
}

// clampUnitFloat converts a float64 already known to be in [0,1] (modulo
// floating-point noise at the boundaries) into Money at the kernel's
// default scale.
func clampUnitFloat(f float64) money.Money {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return money.New(int64(math.Round(f*1e8)), -8)
}
