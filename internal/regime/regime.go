// Package regime computes the Net Gamma Exposure-derived market regime
// (C4), generalized from the teacher's cadence-loop detector shape
// (config-driven, holds last-good state, runs on a fixed schedule) with the
// HMM state estimation replaced by the spec's explicit GEX formulas.
package regime

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-core/internal/corerr"
	"github.com/atlas-desktop/trading-core/internal/optionsfeed"
	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// Store is the persistence boundary the engine depends on.
type Store interface {
	PutMarketRegime(ctx context.Context, symbol string, regime types.MarketRegime) error
	GetMarketRegime(ctx context.Context, symbol string) (*types.MarketRegime, error)
	PutMarketRegimeError(ctx context.Context, symbol string, regimeErr types.MarketRegimeError) error
}

// Quoter supplies the spot price the GEX formula scales by; the broker
// client satisfies this with its GetQuote operation.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (types.Quote, error)
}

// contractMultiplier is the standard 100-share equity option multiplier.
var contractMultiplier = money.FromInt(100)

// Config holds the GEX engine's classification thresholds.
type Config struct {
	Symbols  []string
	Expiries []string
	// Epsilon is the |NetGEX| band around zero classified as NEUTRAL.
	Epsilon money.Money
}

// DefaultConfig returns the engine's default single-symbol configuration.
func DefaultConfig() Config {
	return Config{
		Symbols:  []string{"SPX"},
		Expiries: []string{"0dte", "weekly"},
		Epsilon:  money.MustParse("1000"),
	}
}

// Engine computes and persists the GEX-derived regime on a 5-minute
// cadence (wired externally via cron). It is error-tolerant: a failed
// sync leaves the last good regime record untouched and records a sibling
// error instead of overwriting the shared state.
type Engine struct {
	logger  *zap.Logger
	store   Store
	options optionsfeed.Client
	quoter  Quoter
	config  Config
}

// New constructs an Engine.
func New(logger *zap.Logger, store Store, options optionsfeed.Client, quoter Quoter, config Config) *Engine {
	return &Engine{logger: logger, store: store, options: options, quoter: quoter, config: config}
}

// Sync recomputes and persists the regime for every configured symbol.
// Per-symbol failures are logged and do not abort the remaining symbols.
func (e *Engine) Sync(ctx context.Context) {
	for _, symbol := range e.config.Symbols {
		if err := e.syncSymbol(ctx, symbol); err != nil {
			e.logger.Error("regime sync failed, last good regime retained",
				zap.String("symbol", symbol), zap.Error(err))
			errRecord := types.MarketRegimeError{Symbol: symbol, Message: err.Error(), TS: time.Now()}
			if putErr := e.store.PutMarketRegimeError(ctx, symbol, errRecord); putErr != nil {
				e.logger.Error("failed to record regime sync error",
					zap.String("symbol", symbol), zap.Error(putErr))
			}
		}
	}
}

func (e *Engine) syncSymbol(ctx context.Context, symbol string) error {
	chain, err := e.options.OptionChain(ctx, symbol, e.config.Expiries)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "fetch option chain", err)
	}
	if len(chain) == 0 {
		return corerr.New(corerr.KindValidation, "empty option chain")
	}
	quote, err := e.quoter.GetQuote(ctx, symbol)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "fetch spot quote", err)
	}
	spot := quote.Mid()

	callGEX, putGEX := money.Zero, money.Zero
	for _, row := range chain {
		contribution := row.Gamma.Mul(row.OI).Mul(contractMultiplier).Mul(spot)
		switch row.Right {
		case "C":
			callGEX = callGEX.Add(contribution)
		case "P":
			putGEX = putGEX.Add(contribution.Neg())
		}
	}
	netGEX := callGEX.Add(putGEX)

	record := types.MarketRegime{
		Symbol:  symbol,
		NetGEX:  netGEX,
		CallGEX: callGEX,
		PutGEX:  putGEX,
		Regime:  e.classify(netGEX),
		Spot:    spot,
		TS:      time.Now(),
	}
	if err := e.store.PutMarketRegime(ctx, symbol, record); err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "persist market regime", err)
	}
	return nil
}

// classify assigns LONG_GAMMA/SHORT_GAMMA/NEUTRAL from NetGEX relative to
// the configured epsilon band.
func (e *Engine) classify(netGEX money.Money) types.RegimeLabel {
	switch {
	case netGEX.GreaterThan(e.config.Epsilon):
		return types.RegimeLongGamma
	case netGEX.LessThan(e.config.Epsilon.Neg()):
		return types.RegimeShortGamma
	default:
		return types.RegimeNeutral
	}
}
