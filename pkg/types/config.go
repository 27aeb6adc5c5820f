package types

import "github.com/atlas-desktop/trading-core/pkg/money"

// RiskLimits configures the Risk Circuit Breaker's three guards (C8).
type RiskLimits struct {
	MaxDailyLossPct    money.Money `json:"maxDailyLossPct"`
	VolatilityThreshold money.Money `json:"volatilityThreshold"`
	VolatilityDampen   money.Money `json:"volatilityDampen"`
	MaxConcentrationPct money.Money `json:"maxConcentrationPct"`
}

// SharpeTiers configures Maestro's allocation-weight tiers (C6).
type SharpeTiers struct {
	ReduceBelow     float64 `json:"reduceBelow"`
	ShadowModeBelow float64 `json:"shadowModeBelow"`
	MinSampleDays   int     `json:"minSampleDays"`
}

// ConsensusConfig configures the Consensus Engine's execution gate (C7).
type ConsensusConfig struct {
	ExecuteThreshold money.Money `json:"executeThreshold"`
}

// SystemicRiskConfig configures Maestro's systemic-sell override.
type SystemicRiskConfig struct {
	SellVoteThreshold int `json:"sellVoteThreshold"`
}

// WhaleScoringConfig configures the Whale Flow Conviction scorer (C13).
type WhaleScoringConfig struct {
	SentimentTieBreak int `json:"sentimentTieBreak"`
}

// SchedulerConfig configures the Heartbeat Scheduler (C10).
type SchedulerConfig struct {
	TickSeconds       int     `json:"tickSeconds"`
	WritesPerSecond   float64 `json:"writesPerSecond"`
	PerUnitDeadlineMS int     `json:"perUnitDeadlineMs"`
	PerTickDeadlineMS int     `json:"perTickDeadlineMs"`
}

// WatchdogConfig configures anomaly-detection thresholds (C12).
type WatchdogConfig struct {
	LosingStreakThreshold    int         `json:"losingStreakThreshold"`
	LosingStreakMinCumLoss   money.Money `json:"losingStreakMinCumulativeLoss"`
	RapidDrawdownPct         money.Money `json:"rapidDrawdownPct"`
	RapidDrawdownWindow      int         `json:"rapidDrawdownWindowMinutes"`
	MarketMismatchBuyCount   int         `json:"marketMismatchBuyCount"`
	LookbackWindowMinutes    int         `json:"lookbackWindowMinutes"`
}
