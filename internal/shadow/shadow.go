// Package shadow implements the Shadow Executor (C9) and the Shadow P&L
// Materializer (C11). Both are adapted from the teacher's Executor,
// narrowed to a fail-closed no-live-order contract and re-pointed at
// decimal Money instead of raw decimal.Decimal order placement; neither
// holds in-process state or a mutex of its own.
package shadow

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-core/internal/corerr"
	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/internal/performance"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// Store is the persistence boundary the executor and materializer depend
// on; internal/store provides the Firestore-backed implementation.
type Store interface {
	GetTradingStatus(ctx context.Context, tid, uid string) (*types.TradingStatus, error)
	CreateShadowTrade(ctx context.Context, tid, uid string, trade types.ShadowTrade) (string, error)
	ListOpenShadowTrades(ctx context.Context, tid, uid string) ([]types.ShadowTrade, error)
	UpdateShadowTrade(ctx context.Context, tid, uid string, trade types.ShadowTrade) error
}

// ShadowModeFlag reads the global shadow-mode switch.
type ShadowModeFlag interface {
	IsShadowMode(ctx context.Context) (bool, error)
}

// Quoter supplies the bid/ask used to compute fill price and current price.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// PerformanceSink receives realized lots so they can feed an agent's
// rolling Sharpe tracker. Optional: a nil sink (the zero value wired
// nowhere) simply means closed trades are not fed back into C5.
type PerformanceSink interface {
	IngestRealizedLot(agentID string, lot performance.Lot)
}

// Decision is the fully risk-adjusted signal handed to the executor.
type Decision struct {
	TID, UID  string
	AgentID   string
	Symbol    string
	Action    types.SignalKind
	Allocation money.Money
	NAV       money.Money
	RiskCoercedToHold bool
	RiskReasons       []string
}

// Result reports what the executor did with a Decision.
type Result struct {
	Executed bool
	Reason   string
	Trade    *types.ShadowTrade
	// Closed holds any existing opposite-side trades the fill closed out via
	// FIFO matching before (or instead of) opening Trade.
	Closed []types.ShadowTrade
}

// Executor places shadow (paper) trades only, never live orders. Every
// pre-write check failure short-circuits to Result{Executed:false}.
type Executor struct {
	logger   *zap.Logger
	store    Store
	flag     ShadowModeFlag
	quoter   Quoter
	identity *identity.Vault
	perf     PerformanceSink
}

// New constructs an Executor. perf may be nil, in which case closing an
// opposite-side position realizes no Sharpe-tracker feed.
func New(logger *zap.Logger, store Store, flag ShadowModeFlag, quoter Quoter, vault *identity.Vault, perf PerformanceSink) *Executor {
	return &Executor{logger: logger, store: store, flag: flag, quoter: quoter, identity: vault, perf: perf}
}

// Execute runs the fail-closed pre-write verification and, on success,
// fills at the quote midpoint: open opposite-side trades for the symbol are
// first FIFO-closed (performance.Realize), and a new OPEN ShadowTrade is
// persisted only for the quantity left over, so a fill may open none.
func (e *Executor) Execute(ctx context.Context, d Decision, signed *identity.Signed, nonceUnused bool) (Result, error) {
	shadowMode, err := e.flag.IsShadowMode(ctx)
	if err != nil {
		e.logger.Warn("shadow mode flag read failed, failing closed", zap.Error(err))
		shadowMode = true
	}
	if !shadowMode {
		return Result{Executed: false, Reason: "shadow mode disabled"}, nil
	}

	status, err := e.store.GetTradingStatus(ctx, d.TID, d.UID)
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindTransientIO, "load trading status", err)
	}
	if status == nil || !status.Enabled {
		return Result{Executed: false, Reason: "trading disabled"}, nil
	}
	if d.RiskCoercedToHold || d.Action == types.SignalHold {
		return Result{Executed: false, Reason: "no trade: holding"}, nil
	}
	if signed == nil {
		return Result{Executed: false, Reason: "missing signature"}, nil
	}
	if e.identity != nil {
		if err := e.identity.Verify(ctx, signed); err != nil {
			return Result{Executed: false, Reason: "signature invalid: " + err.Error()}, nil
		}
	}
	if !nonceUnused {
		return Result{Executed: false, Reason: "nonce already used"}, nil
	}

	quote, err := e.quoter.GetQuote(ctx, d.Symbol)
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindTransientIO, "fetch quote", err)
	}
	fillPrice := quote.Mid()
	if fillPrice.IsZero() {
		return Result{Executed: false, Reason: "zero fill price"}, nil
	}
	notional := d.NAV.Mul(d.Allocation)
	quantity := notional.MustDiv(fillPrice)

	side := types.SideBuy
	if d.Action == types.SignalSell {
		side = types.SideSell
	}

	now := time.Now()

	open, err := e.store.ListOpenShadowTrades(ctx, d.TID, d.UID)
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindTransientIO, "list open shadow trades", err)
	}
	closed, lots, remainingQty := performance.Realize(open, d.Symbol, side, quantity, fillPrice, now)
	for i, c := range closed {
		if upErr := e.store.UpdateShadowTrade(ctx, d.TID, d.UID, c); upErr != nil {
			e.logger.Warn("failed to persist FIFO-closed trade", zap.String("tradeId", c.ID), zap.Error(upErr))
			continue
		}
		if e.perf != nil {
			e.perf.IngestRealizedLot(c.AgentProvenance.AgentID, lots[i])
		}
	}

	result := Result{Executed: true, Closed: closed}
	if !remainingQty.GreaterThan(money.Zero) {
		return result, nil
	}

	trade := types.ShadowTrade{
		UID:          d.UID,
		Symbol:       d.Symbol,
		Side:         side,
		Quantity:     remainingQty,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		CurrentPnL:   money.Zero,
		PnLPercent:   money.Zero,
		Status:       types.TradeOpen,
		CreatedAt:    now,
		LastUpdated:  now,
		Allocation:   d.Allocation,
		AgentProvenance: types.AgentProvenance{
			AgentID:  d.AgentID,
			Nonce:    signed.Nonce,
			SignedAt: now,
		},
	}

	id, err := e.store.CreateShadowTrade(ctx, d.TID, d.UID, trade)
	if err != nil {
		return Result{}, corerr.Wrap(corerr.KindTransientIO, "persist shadow trade", err)
	}
	trade.ID = id
	result.Trade = &trade
	return result, nil
}

// Materializer is the Shadow P&L Materializer (C11): it marks every OPEN
// trade to the current quote, leaving trades with no available quote
// untouched and stale-marked rather than failing the whole batch.
type Materializer struct {
	logger *zap.Logger
	store  Store
	quoter Quoter
}

// NewMaterializer constructs a Materializer.
func NewMaterializer(logger *zap.Logger, store Store, quoter Quoter) *Materializer {
	return &Materializer{logger: logger, store: store, quoter: quoter}
}

// MarkToMarket updates current_price/current_pnl/pnl_percent/last_updated
// for every OPEN trade belonging to (tid, uid). A per-trade error is
// logged and skipped; it never aborts the remaining trades.
func (m *Materializer) MarkToMarket(ctx context.Context, tid, uid string) (updated int, err error) {
	trades, err := m.store.ListOpenShadowTrades(ctx, tid, uid)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindTransientIO, "list open shadow trades", err)
	}

	for _, trade := range trades {
		quote, qErr := m.quoter.GetQuote(ctx, trade.Symbol)
		if qErr != nil {
			trade.Stale = true
			if upErr := m.store.UpdateShadowTrade(ctx, tid, uid, trade); upErr != nil {
				m.logger.Warn("failed to mark trade stale", zap.String("tradeId", trade.ID), zap.Error(upErr))
			}
			m.logger.Warn("no quote available for open trade, marked stale",
				zap.String("tradeId", trade.ID), zap.String("symbol", trade.Symbol), zap.Error(qErr))
			continue
		}

		price := quote.Mid()
		var pnl money.Money
		if trade.Side == types.SideBuy {
			pnl = price.Sub(trade.EntryPrice).Mul(trade.Quantity)
		} else {
			pnl = trade.EntryPrice.Sub(price).Mul(trade.Quantity)
		}

		denominator := trade.EntryPrice.Mul(trade.Quantity)
		pnlPercent := money.Zero
		if !denominator.IsZero() {
			pnlPercent = pnl.MustDiv(denominator).Mul(money.FromInt(100))
		}

		trade.CurrentPrice = price
		trade.CurrentPnL = pnl
		trade.PnLPercent = pnlPercent
		trade.LastUpdated = time.Now()
		trade.Stale = false

		if err := m.store.UpdateShadowTrade(ctx, tid, uid, trade); err != nil {
			m.logger.Warn("failed to persist mark-to-market", zap.String("tradeId", trade.ID), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}
