// Package heartbeat implements the Heartbeat Scheduler (C10): a once-a-
// minute tick that fans out bounded-concurrency units over every
// {tenant, user} pair, rate-limited on writes, running the full
// materialize -> orchestrate -> consensus -> risk -> execute pipeline for
// each unit. Adapted from the teacher's high-throughput worker pool,
// narrowed from a generic task queue to one domain-specific unit and
// fronted by a token-bucket write limiter instead of a bare queue depth.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/consensus"
	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/internal/maestro"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/shadow"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/watchdog"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Store is the persistence boundary the scheduler depends on directly;
// internal/store satisfies it.
type Store interface {
	ListTenants(ctx context.Context) ([]types.Tenant, error)
	ListActiveUsers(ctx context.Context, tid string) ([]types.User, error)
	GetTradingStatus(ctx context.Context, tid, uid string) (*types.TradingStatus, error)
	GetUserConfig(ctx context.Context, tid, uid string) (*types.UserConfig, error)
	PutAccountSnapshot(ctx context.Context, tid, uid string, snap types.AccountSnapshot) error
	PutSyncError(ctx context.Context, tid, uid, message string) error
	PutSignal(ctx context.Context, tid, uid string, sig types.ConsensusSignal) error
	GetMarketRegime(ctx context.Context, symbol string) (*types.MarketRegime, error)
}

// AccountSource supplies the account snapshot and the trading instrument's
// current quote. A single shared paper broker connection serves every
// tenant/user in this deployment shape; per-user brokerage credentials are
// out of scope (no broker onboarding).
type AccountSource interface {
	GetAccount(ctx context.Context) (types.AccountSnapshot, error)
	GetQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// SharpeLookup resolves an agent's current Sharpe ratio, or nil if no
// performance history exists yet.
type SharpeLookup func(agentID string) *float64

// Config holds the tick cadence, concurrency, and deadline knobs.
type Config struct {
	types.SchedulerConfig
	Symbol string // single traded instrument for this deployment shape
}

// DefaultConfig returns the spec's scheduling defaults.
func DefaultConfig() Config {
	return Config{
		SchedulerConfig: types.SchedulerConfig{
			TickSeconds:       60,
			WritesPerSecond:   500,
			PerUnitDeadlineMS: 10_000,
			PerTickDeadlineMS: 45_000,
		},
		Symbol: "SPX",
	}
}

// Scheduler runs one tick across every active tenant/user.
type Scheduler struct {
	logger       *zap.Logger
	store        Store
	account      AccountSource
	strategies   *strategy.Registry
	orchestrator *maestro.Orchestrator
	consensus    consensus.Config
	risk         risk.Config
	executor     *shadow.Executor
	materializer *shadow.Materializer
	watchdog     *watchdog.Watchdog
	sharpe       SharpeLookup
	identity     *identity.Vault
	config       Config

	limiter *rate.Limiter

	dayMu       sync.Mutex
	dayStart    map[string]money.Money // per "tid/uid" start-of-day equity cache
	dayStartKey string                 // calendar day the cache belongs to
}

// New constructs a Scheduler. vault may be nil, in which case executed
// decisions carry no signature and the Shadow Executor rejects every one of
// them (fail closed rather than silently skipping signing).
func New(
	logger *zap.Logger,
	store Store,
	account AccountSource,
	strategies *strategy.Registry,
	orchestrator *maestro.Orchestrator,
	consensusCfg consensus.Config,
	riskCfg risk.Config,
	executor *shadow.Executor,
	materializer *shadow.Materializer,
	watchdogScanner *watchdog.Watchdog,
	sharpe SharpeLookup,
	vault *identity.Vault,
	config Config,
) *Scheduler {
	return &Scheduler{
		logger:       logger,
		store:        store,
		account:      account,
		strategies:   strategies,
		orchestrator: orchestrator,
		consensus:    consensusCfg,
		risk:         riskCfg,
		executor:     executor,
		materializer: materializer,
		watchdog:     watchdogScanner,
		sharpe:       sharpe,
		identity:     vault,
		config:       config,
		limiter:      rate.NewLimiter(rate.Limit(config.WritesPerSecond), int(config.WritesPerSecond)),
		dayStart:     make(map[string]money.Money),
	}
}

// TickSummary is the write recorded after every tick completes.
type TickSummary struct {
	Success  int           `json:"success" firestore:"success"`
	Errors   int           `json:"errors" firestore:"errors"`
	Skipped  int           `json:"skipped" firestore:"skipped"`
	Duration time.Duration `json:"duration" firestore:"duration"`
}

// Tick lists every active tenant and user and runs one bounded-concurrency
// unit per pair, honoring the tick deadline cooperatively.
func (s *Scheduler) Tick(ctx context.Context) TickSummary {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.PerTickDeadlineMS)*time.Millisecond)
	defer cancel()

	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		s.logger.Error("tick aborted: failed to list tenants", zap.Error(err))
		return TickSummary{Duration: time.Since(start)}
	}

	type unitKey struct{ tid, uid string }
	var units []unitKey
	for _, t := range tenants {
		users, err := s.store.ListActiveUsers(ctx, t.TID)
		if err != nil {
			s.logger.Warn("failed to list users for tenant", zap.String("tid", t.TID), zap.Error(err))
			continue
		}
		for _, u := range users {
			units = append(units, unitKey{tid: t.TID, uid: u.UID})
		}
	}

	const maxConcurrency = 16
	sem := make(chan struct{}, maxConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup
	summary := TickSummary{}

	for i, u := range units {
		select {
		case <-ctx.Done():
			mu.Lock()
			summary.Skipped += len(units) - i
			mu.Unlock()
			wg.Wait()
			summary.Duration = time.Since(start)
			return summary
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(tid, uid string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.runUnit(ctx, tid, uid)
			mu.Lock()
			switch outcome {
			case unitSkipped:
				summary.Skipped++
			case unitError:
				summary.Errors++
			default:
				summary.Success++
			}
			mu.Unlock()
		}(u.tid, u.uid)
	}

	wg.Wait()
	summary.Duration = time.Since(start)
	return summary
}

type unitOutcome int

const (
	unitSuccess unitOutcome = iota
	unitSkipped
	unitError
)

// runUnit executes the per-user pipeline in the mandated order:
// AccountSnapshot write -> P&L materialize -> Maestro -> Consensus ->
// Risk -> Shadow Executor. Errors at this boundary are recorded to
// users/{uid}/status/last_sync_error and never propagate to other units.
func (s *Scheduler) runUnit(ctx context.Context, tid, uid string) unitOutcome {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.PerUnitDeadlineMS)*time.Millisecond)
	defer cancel()

	status, err := s.store.GetTradingStatus(ctx, tid, uid)
	if err != nil {
		s.recordError(ctx, tid, uid, fmt.Sprintf("load trading status: %v", err))
		return unitError
	}
	if status == nil || !status.Enabled {
		return unitSkipped
	}

	userCfg, err := s.store.GetUserConfig(ctx, tid, uid)
	if err != nil {
		s.recordError(ctx, tid, uid, fmt.Sprintf("load user config: %v", err))
		return unitError
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.recordError(ctx, tid, uid, "rate limiter: "+err.Error())
		return unitError
	}
	snapshot, err := s.account.GetAccount(ctx)
	if err != nil {
		s.recordError(ctx, tid, uid, fmt.Sprintf("fetch account snapshot: %v", err))
		return unitError
	}
	if err := s.store.PutAccountSnapshot(ctx, tid, uid, snapshot); err != nil {
		s.recordError(ctx, tid, uid, fmt.Sprintf("persist account snapshot: %v", err))
		return unitError
	}

	if s.materializer != nil {
		if _, err := s.materializer.MarkToMarket(ctx, tid, uid); err != nil {
			s.recordError(ctx, tid, uid, fmt.Sprintf("mark to market: %v", err))
			return unitError
		}
	}

	quote, err := s.account.GetQuote(ctx, s.config.Symbol)
	if err != nil {
		s.recordError(ctx, tid, uid, fmt.Sprintf("fetch quote: %v", err))
		return unitError
	}
	regime, err := s.store.GetMarketRegime(ctx, s.config.Symbol)
	if err != nil {
		s.logger.Warn("market regime unavailable, proceeding with neutral shaping",
			zap.String("tid", tid), zap.String("uid", uid), zap.Error(err))
		regime = nil
	}

	if s.watchdog != nil {
		if report, err := s.watchdog.Scan(ctx, tid, uid, regime); err != nil {
			s.logger.Warn("watchdog scan failed", zap.String("tid", tid), zap.String("uid", uid), zap.Error(err))
		} else if report.KillSwitchTripped {
			return unitSkipped
		}
	}

	rawVotes, sharpeByAgent := s.evaluateStrategies(ctx, tid, uid, userCfg, quote, snapshot, regime)
	orchestrated, _ := s.orchestrator.Orchestrate(ctx, rawVotes, sharpeByAgent, regime)

	votes := make([]types.Vote, 0, len(orchestrated))
	for _, v := range orchestrated {
		votes = append(votes, v)
	}
	consensusResult := s.consensus.Score(votes)

	// The consensus score gates execution (ShouldExecute); it is a
	// confidence measure, not a position size. The position size is the
	// winning agent's Maestro-computed allocation (Sharpe tier, systemic
	// override, regime cap already applied).
	leadVote := leadVoteFor(votes, consensusResult.FinalAction)

	riskOutcome := s.risk.Apply(
		risk.Proposal{Action: consensusResult.FinalAction, Allocation: leadVote.Allocation, Symbol: s.config.Symbol},
		risk.Context{
			StartingEquity:  s.dayStartEquity(tid, uid, snapshot.Equity),
			CurrentEquity:   snapshot.Equity,
			NAV:             snapshot.Equity,
			VolatilityIndex: money.Zero,
		},
	)

	sig := types.ConsensusSignal{
		FinalAction:   riskOutcome.Action,
		Score:         consensusResult.Score,
		Discordance:   consensusResult.Discordance,
		Votes:         votes,
		ShouldExecute: consensusResult.ShouldExecute && riskOutcome.Action != types.SignalHold,
		TS:            time.Now(),
	}
	if err := s.store.PutSignal(ctx, tid, uid, sig); err != nil {
		s.logger.Warn("failed to persist consensus signal", zap.String("tid", tid), zap.String("uid", uid), zap.Error(err))
	}

	if s.executor != nil && sig.ShouldExecute {
		leadAgent := leadVote.AgentID
		decision := shadow.Decision{
			TID: tid, UID: uid, AgentID: leadAgent, Symbol: s.config.Symbol,
			Action: riskOutcome.Action, Allocation: riskOutcome.Allocation, NAV: snapshot.Equity,
			RiskCoercedToHold: len(riskOutcome.Reasons) > 0 && riskOutcome.Action == types.SignalHold,
			RiskReasons:       riskOutcome.Reasons,
		}

		var signed *identity.Signed
		if s.identity != nil && leadAgent != "" {
			signed, err = s.identity.Sign(ctx, leadAgent, decision)
			if err != nil {
				s.logger.Warn("failed to sign shadow decision, executor will reject it",
					zap.String("tid", tid), zap.String("uid", uid), zap.String("agentId", leadAgent), zap.Error(err))
			}
		}

		if _, err := s.executor.Execute(ctx, decision, signed, true); err != nil {
			s.recordError(ctx, tid, uid, fmt.Sprintf("shadow executor: %v", err))
			return unitError
		}
	}

	return unitSuccess
}

// evaluateStrategies runs every strategy kind selected for the user and
// returns their raw votes plus the Sharpe ratio known for each agent.
func (s *Scheduler) evaluateStrategies(
	ctx context.Context, tid, uid string, cfg *types.UserConfig,
	quote types.Quote, account types.AccountSnapshot, regime *types.MarketRegime,
) ([]maestro.RawVote, map[string]*float64) {
	kinds := cfg.StrategySelect
	if len(kinds) == 0 {
		kinds = s.strategies.Kinds()
	}

	votes := make([]maestro.RawVote, 0, len(kinds))
	sharpes := make(map[string]*float64, len(kinds))

	for _, kind := range kinds {
		agentID := fmt.Sprintf("%s:%s:%s", uid, kind, tid)
		strat, ok := s.strategies.Create(kind, agentID)
		if !ok {
			s.logger.Warn("unknown strategy kind selected", zap.String("kind", kind), zap.String("uid", uid))
			continue
		}
		kind, allocation, err := strat.Evaluate(ctx, strategy.Input{Quote: quote, Account: account, Regime: regime})
		if err != nil {
			s.logger.Warn("strategy evaluation failed", zap.String("agentId", agentID), zap.Error(err))
			continue
		}
		votes = append(votes, maestro.RawVote{
			AgentID:        agentID,
			Kind:           kind,
			Confidence:     money.MustParse("0.6"),
			BaseAllocation: allocation,
		})
		if s.sharpe != nil {
			sharpes[agentID] = s.sharpe(agentID)
		}
	}
	return votes, sharpes
}

// dayStartEquity returns the first equity value observed for (tid, uid)
// since the process last saw a new calendar day, resetting the cache at
// each day boundary. This is a process-local approximation of the
// persisted starting-equity reference a longer-lived deployment would use.
func (s *Scheduler) dayStartEquity(tid, uid string, current money.Money) money.Money {
	key := tid + "/" + uid
	today := time.Now().Format("2006-01-02")

	s.dayMu.Lock()
	defer s.dayMu.Unlock()
	if s.dayStartKey != today {
		s.dayStart = make(map[string]money.Money)
		s.dayStartKey = today
	}
	if v, ok := s.dayStart[key]; ok {
		return v
	}
	s.dayStart[key] = current
	return current
}

// leadVoteFor attributes a shadow trade's provenance and sizing to the
// highest-weight agent whose vote agrees with the final consensus action,
// falling back to the highest-weight vote overall if none agree (e.g. a
// regime-driven reshaping left no exact match). Its Allocation is the
// position size risk.Apply and the Shadow Executor size off of.
func leadVoteFor(votes []types.Vote, action types.SignalKind) types.Vote {
	var best types.Vote
	var bestAgreeing types.Vote
	found, foundAgreeing := false, false
	for _, v := range votes {
		if !found || v.Weight.GreaterThan(best.Weight) {
			best = v
			found = true
		}
		if v.Kind == action && (!foundAgreeing || v.Weight.GreaterThan(bestAgreeing.Weight)) {
			bestAgreeing = v
			foundAgreeing = true
		}
	}
	if foundAgreeing {
		return bestAgreeing
	}
	return best
}

func (s *Scheduler) recordError(ctx context.Context, tid, uid, message string) {
	s.logger.Error("heartbeat unit failed", zap.String("tid", tid), zap.String("uid", uid), zap.String("error", message))
	if err := s.store.PutSyncError(ctx, tid, uid, message); err != nil {
		s.logger.Warn("failed to record sync error", zap.String("tid", tid), zap.String("uid", uid), zap.Error(err))
	}
}
