// Package types provides the shared entity definitions written and read by
// every Trading Core component, mirroring the persistence namespace rooted
// at tenants/{tid}/users/{uid}/....
package types

import (
	"time"

	"github.com/atlas-desktop/trading-core/pkg/money"
)

// OrderSide is BUY or SELL.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// TradeStatus is the ShadowTrade lifecycle: OPEN -> CLOSED, terminal.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// SignalKind is the tagged action a strategy or the consensus engine emits.
type SignalKind string

const (
	SignalBuy      SignalKind = "BUY"
	SignalSell     SignalKind = "SELL"
	SignalHold     SignalKind = "HOLD"
	SignalCloseAll SignalKind = "CLOSE_ALL"
)

// RegimeLabel is the Net Gamma Exposure-derived market regime.
type RegimeLabel string

const (
	RegimeLongGamma  RegimeLabel = "LONG_GAMMA"
	RegimeShortGamma RegimeLabel = "SHORT_GAMMA"
	RegimeNeutral    RegimeLabel = "NEUTRAL"
)

// StrategyMode is the derived (not persisted as a state machine) Sharpe
// tier Maestro assigns a strategy each tick.
type StrategyMode string

const (
	ModeActive     StrategyMode = "ACTIVE"
	ModeReduced    StrategyMode = "REDUCED"
	ModeShadowMode StrategyMode = "SHADOW_MODE"
)

// WhaleFlowType classifies an options sweep/block print.
type WhaleFlowType string

const (
	FlowSweep   WhaleFlowType = "SWEEP"
	FlowBlock   WhaleFlowType = "BLOCK"
	FlowUnknown WhaleFlowType = "UNKNOWN"
)

// Sentiment is the directional read of a whale flow or aggregated window.
type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
	SentimentMixed   Sentiment = "MIXED"
)

// AlertSeverity grades an operator-facing Alert or WatchdogEvent.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityLow      AlertSeverity = "LOW"
)

// Tenant is the organizational root. Created out-of-band; referenced by
// every read and write the core performs.
type Tenant struct {
	TID           string `json:"tid" firestore:"tid"`
	Active        bool   `json:"active" firestore:"active"`
	RateLimitTier string `json:"rateLimitTier" firestore:"rateLimitTier"`
}

// User is the addressable subject under a tenant.
type User struct {
	UID       string `json:"uid" firestore:"uid"`
	TID       string `json:"tid" firestore:"tid"`
	Onboarded bool   `json:"onboarded" firestore:"onboarded"`
}

// UserConfig holds broker credentials and strategy selection. Read-only to
// the core; mutable only by the user out-of-band.
type UserConfig struct {
	BrokerKeyID    string            `json:"brokerKeyId" firestore:"brokerKeyId"`
	StrategySelect []string          `json:"strategySelection" firestore:"strategySelection"`
	RiskOverrides  map[string]string `json:"riskOverrides" firestore:"riskOverrides"`
}

// TradingStatus is the per-user kill-switch. Defaults to enabled=false on
// new users (fail-safe). A watchdog trip is one-way until a human re-enables
// it out-of-band.
type TradingStatus struct {
	Enabled    bool      `json:"enabled" firestore:"enabled"`
	DisabledBy string    `json:"disabledBy,omitempty" firestore:"disabledBy,omitempty"`
	Reason     string    `json:"reason,omitempty" firestore:"reason,omitempty"`
	Since      time.Time `json:"since" firestore:"since"`
}

// Position is a broker-reported holding. Not authoritative; derived.
type Position struct {
	Symbol        string      `json:"symbol" firestore:"symbol"`
	Quantity      money.Money `json:"qty" firestore:"qty"`
	AvgEntryPrice money.Money `json:"avgEntryPrice" firestore:"avgEntryPrice"`
}

// AccountSnapshot is overwritten each tick by the Heartbeat Scheduler; no
// append-only history is retained here.
type AccountSnapshot struct {
	Equity      money.Money `json:"equity" firestore:"equity"`
	Cash        money.Money `json:"cash" firestore:"cash"`
	BuyingPower money.Money `json:"buyingPower" firestore:"buyingPower"`
	Positions   []Position  `json:"positions" firestore:"positions"`
	AsOf        time.Time   `json:"asOf" firestore:"asOf"`
}

// AgentProvenance attaches the signing identity to a ShadowTrade or signal.
type AgentProvenance struct {
	AgentID   string    `json:"agentId" firestore:"agentId"`
	Nonce     string    `json:"nonce" firestore:"nonce"`
	SessionID string    `json:"sessionId" firestore:"sessionId"`
	SignedAt  time.Time `json:"signedAt" firestore:"signedAt"`
	CertID    string    `json:"certId" firestore:"certId"`
}

// ShadowTrade is born OPEN, mutated only through the P&L Materializer, and
// transitions to CLOSED exactly once. Immutable once CLOSED (I3).
type ShadowTrade struct {
	ID              string          `json:"id" firestore:"id"`
	UID             string          `json:"uid" firestore:"uid"`
	Symbol          string          `json:"symbol" firestore:"symbol"`
	Side            OrderSide       `json:"side" firestore:"side"`
	Quantity        money.Money     `json:"quantity" firestore:"quantity"`
	EntryPrice      money.Money     `json:"entryPrice" firestore:"entryPrice"`
	CurrentPrice    money.Money     `json:"currentPrice" firestore:"currentPrice"`
	CurrentPnL      money.Money     `json:"currentPnl" firestore:"currentPnl"`
	PnLPercent      money.Money     `json:"pnlPercent" firestore:"pnlPercent"`
	Status          TradeStatus     `json:"status" firestore:"status"`
	CreatedAt       time.Time       `json:"createdAt" firestore:"createdAt"`
	LastUpdated     time.Time       `json:"lastUpdated" firestore:"lastUpdated"`
	Reasoning       string          `json:"reasoning,omitempty" firestore:"reasoning,omitempty"`
	AgentProvenance AgentProvenance `json:"agentProvenance" firestore:"agentProvenance"`
	Allocation      money.Money     `json:"allocation" firestore:"allocation"`
	Stale           bool            `json:"stale,omitempty" firestore:"stale,omitempty"`
}

// StrategyIdentity is the public-only registry record; the private key
// never persists (I5).
type StrategyIdentity struct {
	AgentID      string    `json:"agentId" firestore:"agentId"`
	PublicKeyB64 string    `json:"publicKey" firestore:"publicKey"`
	Status       string    `json:"status" firestore:"status"`
	RegisteredAt time.Time `json:"registeredAt" firestore:"registeredAt"`
}

// StrategyPerformance is the rolling 30-day FIFO series the Performance
// Tracker maintains per {tenant,user,strategy}.
type StrategyPerformance struct {
	AgentID           string        `json:"agentId" firestore:"agentId"`
	RealizedPnLSeries []money.Money `json:"realizedPnlSeries" firestore:"realizedPnlSeries"`
	DailyReturns      []float64     `json:"dailyReturns" firestore:"dailyReturns"`
	Sharpe            *float64      `json:"sharpe" firestore:"sharpe"`
	UpdatedAt         time.Time     `json:"updatedAt" firestore:"updatedAt"`
}

// MarketRegime is overwritten on each regime-sync tick (C4).
type MarketRegime struct {
	Symbol  string      `json:"symbol" firestore:"symbol"`
	NetGEX  money.Money `json:"netGex" firestore:"netGex"`
	CallGEX money.Money `json:"callGex" firestore:"callGex"`
	PutGEX  money.Money `json:"putGex" firestore:"putGex"`
	Regime  RegimeLabel `json:"regime" firestore:"regime"`
	Spot    money.Money `json:"spot" firestore:"spot"`
	TS      time.Time   `json:"ts" firestore:"ts"`
}

// MarketRegimeError is the sibling error record C4 writes instead of the
// regime document itself when a sync fails, so the last-good regime stays
// untouched while the failure is still visible to operators.
type MarketRegimeError struct {
	Symbol  string    `json:"symbol" firestore:"symbol"`
	Message string    `json:"message" firestore:"message"`
	TS      time.Time `json:"ts" firestore:"ts"`
}

// WhaleFlow is a single scored institutional-flow print (C13).
type WhaleFlow struct {
	ID              string        `json:"id" firestore:"id"`
	FlowType        WhaleFlowType `json:"flowType" firestore:"flowType"`
	Sentiment       Sentiment     `json:"sentiment" firestore:"sentiment"`
	Underlying      string        `json:"underlying" firestore:"underlying"`
	Strike          money.Money   `json:"strike" firestore:"strike"`
	Premium         money.Money   `json:"premium" firestore:"premium"`
	VolOIRatio      money.Money   `json:"volOiRatio" firestore:"volOiRatio"`
	IsOTM           bool          `json:"isOtm" firestore:"isOtm"`
	ConvictionScore money.Money   `json:"convictionScore" firestore:"convictionScore"`
	TS              time.Time     `json:"ts" firestore:"ts"`
}

// Vote is one strategy's contribution to a ConsensusSignal. Allocation is
// the Maestro-computed position size (Sharpe tier, systemic override, and
// regime cap already applied) for this agent's signal, kept separate from
// the consensus score, which is an execution-gating confidence measure.
type Vote struct {
	AgentID    string          `json:"agentId" firestore:"agentId"`
	Kind       SignalKind      `json:"kind" firestore:"kind"`
	Confidence money.Money     `json:"confidence" firestore:"confidence"`
	Weight     money.Money     `json:"weight" firestore:"weight"`
	Allocation money.Money     `json:"allocation" firestore:"allocation"`
	Provenance AgentProvenance `json:"provenance" firestore:"provenance"`
}

// ConsensusSignal is the audited output of the Consensus Engine (C7).
type ConsensusSignal struct {
	ID            string      `json:"id" firestore:"id"`
	FinalAction   SignalKind  `json:"finalAction" firestore:"finalAction"`
	Score         money.Money `json:"score" firestore:"score"`
	Discordance   money.Money `json:"discordance" firestore:"discordance"`
	Votes         []Vote      `json:"votes" firestore:"votes"`
	ShouldExecute bool        `json:"shouldExecute" firestore:"shouldExecute"`
	TS            time.Time   `json:"ts" firestore:"ts"`
}

// WatchdogEvent is an append-only anomaly record (C12).
type WatchdogEvent struct {
	ID                  string        `json:"id" firestore:"id"`
	AnomalyType         string        `json:"anomalyType" firestore:"anomalyType"`
	Severity            AlertSeverity `json:"severity" firestore:"severity"`
	KillSwitchActivated bool          `json:"killSwitchActivated" firestore:"killSwitchActivated"`
	Explanation         string        `json:"explanation" firestore:"explanation"`
	TS                  time.Time     `json:"ts" firestore:"ts"`
}

// Alert is an append-only operator-facing notification.
type Alert struct {
	ID       string        `json:"id" firestore:"id"`
	Type     string        `json:"type" firestore:"type"`
	Severity AlertSeverity `json:"severity" firestore:"severity"`
	Title    string        `json:"title" firestore:"title"`
	Message  string        `json:"message" firestore:"message"`
	Read     bool          `json:"read" firestore:"read"`
	TS       time.Time     `json:"ts" firestore:"ts"`
}

// Quote is the broker/market-data client's bid/ask/last snapshot.
type Quote struct {
	Symbol string      `json:"symbol"`
	Bid    money.Money `json:"bid"`
	Ask    money.Money `json:"ask"`
	Last   money.Money `json:"last"`
	TS     time.Time   `json:"ts"`
}

// Mid returns (bid+ask)/2, the fill price the Shadow Executor uses.
func (q Quote) Mid() money.Money {
	return q.Bid.Add(q.Ask).MustDiv(money.FromInt(2))
}

// OptionQuote is a single option-chain row consumed by the GEX engine.
type OptionQuote struct {
	Strike money.Money `json:"strike"`
	Right  string      `json:"right"` // "C" or "P"
	OI     money.Money `json:"oi"`
	Gamma  money.Money `json:"gamma"`
	IV     money.Money `json:"iv"`
	Last   money.Money `json:"last"`
}
