// Package whale implements Whale Flow Conviction scoring (C13): a
// deterministic 0-1 score per options print, plus a lookback rollup over
// recent prints. Grounded on the Performance Tracker's window-then-reduce
// shape, applied here to flow conviction instead of realized P&L.
package whale

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Store is the persistence boundary the scorer depends on.
type Store interface {
	PutWhaleFlow(ctx context.Context, tid, uid string, flow types.WhaleFlow) error
	ListRecentWhaleFlow(ctx context.Context, tid, uid string, since time.Time) ([]types.WhaleFlow, error)
}

var (
	baseSweep      = money.MustParse("0.8")
	baseBlock      = money.MustParse("0.5")
	baseOther      = money.MustParse("0.3")
	otmBonus       = money.MustParse("0.1")
	volOIBonus     = money.MustParse("0.1")
	volOIThreshold = money.MustParse("1.2")
	one            = money.FromInt(1)
)

// PrintInput is a raw options print before conviction scoring.
type PrintInput struct {
	FlowType   types.WhaleFlowType
	Sentiment  types.Sentiment
	Underlying string
	Strike     money.Money
	Premium    money.Money
	VolOIRatio money.Money
	IsOTM      bool
}

// Config configures the BULLISH/BEARISH tie-break threshold.
type Config struct {
	SentimentTieBreak int // max count difference still classified MIXED
}

// DefaultConfig returns the spec's default tie-break of 1.
func DefaultConfig() Config {
	return Config{SentimentTieBreak: 1}
}

// Scorer computes and persists conviction-scored whale flow prints.
type Scorer struct {
	store  Store
	config Config
}

// New constructs a Scorer.
func New(store Store, config Config) *Scorer {
	return &Scorer{store: store, config: config}
}

// Score computes the 0-1 conviction score for a single print.
func Score(p PrintInput) money.Money {
	score := baseOther
	switch p.FlowType {
	case types.FlowSweep:
		score = baseSweep
	case types.FlowBlock:
		score = baseBlock
	}
	if p.IsOTM {
		score = score.Add(otmBonus)
	}
	if p.VolOIRatio.GreaterThan(volOIThreshold) {
		score = score.Add(volOIBonus)
	}
	return clampUnit(score)
}

func clampUnit(m money.Money) money.Money {
	if m.GreaterThan(one) {
		return one
	}
	if m.IsNegative() {
		return money.Zero
	}
	return m
}

// Ingest scores and persists a print.
func (s *Scorer) Ingest(ctx context.Context, tid, uid string, p PrintInput) (types.WhaleFlow, error) {
	flow := types.WhaleFlow{
		FlowType:        p.FlowType,
		Sentiment:       p.Sentiment,
		Underlying:      p.Underlying,
		Strike:          p.Strike,
		Premium:         p.Premium,
		VolOIRatio:      p.VolOIRatio,
		IsOTM:           p.IsOTM,
		ConvictionScore: Score(p),
		TS:              time.Now(),
	}
	if err := s.store.PutWhaleFlow(ctx, tid, uid, flow); err != nil {
		return types.WhaleFlow{}, err
	}
	return flow, nil
}

// Conviction is the recent_conviction rollup over a lookback window.
type Conviction struct {
	HasActivity       bool
	TotalFlows        int
	AvgConviction     money.Money
	MaxConviction     money.Money
	TotalPremium      money.Money
	DominantSentiment types.Sentiment
}

// RecentConviction aggregates every print for (tid, uid, ticker) within
// lookback, classifying the dominant sentiment with the configured
// BULLISH/BEARISH tie-break band.
func (s *Scorer) RecentConviction(ctx context.Context, tid, uid, ticker string, lookback time.Duration) (Conviction, error) {
	flows, err := s.store.ListRecentWhaleFlow(ctx, tid, uid, time.Now().Add(-lookback))
	if err != nil {
		return Conviction{}, err
	}

	var matched []types.WhaleFlow
	for _, f := range flows {
		if f.Underlying == ticker {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return Conviction{}, nil
	}

	sum := money.Zero
	max := matched[0].ConvictionScore
	premium := money.Zero
	bullish, bearish := 0, 0
	for _, f := range matched {
		sum = sum.Add(f.ConvictionScore)
		premium = premium.Add(f.Premium)
		if f.ConvictionScore.GreaterThan(max) {
			max = f.ConvictionScore
		}
		switch f.Sentiment {
		case types.SentimentBullish:
			bullish++
		case types.SentimentBearish:
			bearish++
		}
	}

	diff := bullish - bearish
	if diff < 0 {
		diff = -diff
	}
	dominant := types.SentimentMixed
	switch {
	case diff <= s.config.SentimentTieBreak:
		dominant = types.SentimentMixed
	case bullish > bearish:
		dominant = types.SentimentBullish
	case bearish > bullish:
		dominant = types.SentimentBearish
	}

	return Conviction{
		HasActivity:       true,
		TotalFlows:        len(matched),
		AvgConviction:     sum.MustDiv(money.FromInt(int64(len(matched)))),
		MaxConviction:     max,
		TotalPremium:      premium,
		DominantSentiment: dominant,
	}, nil
}
