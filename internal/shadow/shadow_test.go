package shadow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/internal/performance"
	"github.com/atlas-desktop/trading-core/internal/shadow"
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

type fakeStore struct {
	status *types.TradingStatus
	open   []types.ShadowTrade
	saved  []types.ShadowTrade
	updErr error
}

func (f *fakeStore) GetTradingStatus(ctx context.Context, tid, uid string) (*types.TradingStatus, error) {
	return f.status, nil
}
func (f *fakeStore) CreateShadowTrade(ctx context.Context, tid, uid string, trade types.ShadowTrade) (string, error) {
	f.saved = append(f.saved, trade)
	return "trade-1", nil
}
func (f *fakeStore) ListOpenShadowTrades(ctx context.Context, tid, uid string) ([]types.ShadowTrade, error) {
	return f.open, nil
}
func (f *fakeStore) UpdateShadowTrade(ctx context.Context, tid, uid string, trade types.ShadowTrade) error {
	if f.updErr != nil {
		return f.updErr
	}
	f.open = append(f.open, trade)
	return nil
}

type fakeFlag struct {
	shadow bool
	err    error
}

func (f fakeFlag) IsShadowMode(ctx context.Context) (bool, error) { return f.shadow, f.err }

type fakeQuoter struct {
	quote types.Quote
	err   error
}

func (f fakeQuoter) GetQuote(ctx context.Context, symbol string) (types.Quote, error) {
	return f.quote, f.err
}

func baseDecision() shadow.Decision {
	return shadow.Decision{
		TID: "t1", UID: "u1", AgentID: "agent-a", Symbol: "SPY",
		Action: types.SignalBuy, Allocation: money.MustParse("0.1"), NAV: money.MustParse("100000"),
	}
}

func signedEnvelope(t *testing.T) *identity.Signed {
	vault := identity.New(zap.NewNop(), newMemStore())
	s, err := vault.Sign(context.Background(), "agent-a", map[string]any{"k": "v"})
	require.NoError(t, err)
	return s
}

func TestShadowModeFlagErrorFailsClosed(t *testing.T) {
	store := &fakeStore{status: &types.TradingStatus{Enabled: true}}
	flag := fakeFlag{shadow: false, err: errors.New("read failed")}
	quoter := fakeQuoter{quote: types.Quote{Bid: money.MustParse("100"), Ask: money.MustParse("100.2")}}
	ex := shadow.New(zap.NewNop(), store, flag, quoter, nil, nil)

	res, err := ex.Execute(context.Background(), baseDecision(), nil, true)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, "missing signature", res.Reason)
}

func TestTradingDisabledBlocksExecution(t *testing.T) {
	store := &fakeStore{status: &types.TradingStatus{Enabled: false}}
	flag := fakeFlag{shadow: true}
	quoter := fakeQuoter{}
	ex := shadow.New(zap.NewNop(), store, flag, quoter, nil, nil)

	res, err := ex.Execute(context.Background(), baseDecision(), signedEnvelope(t), true)
	require.NoError(t, err)
	assert.False(t, res.Executed)
}

func TestReusedNonceBlocksExecution(t *testing.T) {
	store := &fakeStore{status: &types.TradingStatus{Enabled: true}}
	flag := fakeFlag{shadow: true}
	quoter := fakeQuoter{quote: types.Quote{Bid: money.MustParse("100"), Ask: money.MustParse("100.2")}}
	ex := shadow.New(zap.NewNop(), store, flag, quoter, nil, nil)

	res, err := ex.Execute(context.Background(), baseDecision(), signedEnvelope(t), false)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, "nonce already used", res.Reason)
}

func TestSuccessfulExecutionComputesMidpointFill(t *testing.T) {
	store := &fakeStore{status: &types.TradingStatus{Enabled: true}}
	flag := fakeFlag{shadow: true}
	quoter := fakeQuoter{quote: types.Quote{Bid: money.MustParse("100"), Ask: money.MustParse("102")}}
	ex := shadow.New(zap.NewNop(), store, flag, quoter, nil, nil)

	res, err := ex.Execute(context.Background(), baseDecision(), signedEnvelope(t), true)
	require.NoError(t, err)
	require.True(t, res.Executed)
	assert.True(t, res.Trade.EntryPrice.Equal(money.MustParse("101")))
	assert.Equal(t, types.TradeOpen, res.Trade.Status)
	assert.True(t, res.Trade.CurrentPnL.IsZero())
}

func TestRiskCoercedHoldNeverExecutes(t *testing.T) {
	store := &fakeStore{status: &types.TradingStatus{Enabled: true}}
	flag := fakeFlag{shadow: true}
	quoter := fakeQuoter{quote: types.Quote{Bid: money.MustParse("100"), Ask: money.MustParse("102")}}
	ex := shadow.New(zap.NewNop(), store, flag, quoter, nil, nil)

	d := baseDecision()
	d.RiskCoercedToHold = true
	res, err := ex.Execute(context.Background(), d, signedEnvelope(t), true)
	require.NoError(t, err)
	assert.False(t, res.Executed)
}

func TestMarkToMarketComputesBuySidePnL(t *testing.T) {
	store := &fakeStore{open: []types.ShadowTrade{
		{ID: "t1", Symbol: "SPY", Side: types.SideBuy, Quantity: money.FromInt(10), EntryPrice: money.MustParse("100"), Status: types.TradeOpen},
	}}
	quoter := fakeQuoter{quote: types.Quote{Bid: money.MustParse("104"), Ask: money.MustParse("106")}}
	mat := shadow.NewMaterializer(zap.NewNop(), store, quoter)

	n, err := mat.MarkToMarket(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	last := store.open[len(store.open)-1]
	assert.True(t, last.CurrentPnL.Equal(money.MustParse("50")))
}

func TestMarkToMarketSkipsMissingQuoteWithoutFailingBatch(t *testing.T) {
	store := &fakeStore{open: []types.ShadowTrade{
		{ID: "t1", Symbol: "SPY", Side: types.SideBuy, Quantity: money.FromInt(10), EntryPrice: money.MustParse("100"), Status: types.TradeOpen},
		{ID: "t2", Symbol: "QQQ", Side: types.SideBuy, Quantity: money.FromInt(5), EntryPrice: money.MustParse("50"), Status: types.TradeOpen},
	}}
	calls := 0
	quoter := quoteSequencer{calls: &calls}
	mat := shadow.NewMaterializer(zap.NewNop(), store, quoter)

	n, err := mat.MarkToMarket(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fakePerfSink struct {
	ingested []performance.Lot
	agentIDs []string
}

func (f *fakePerfSink) IngestRealizedLot(agentID string, lot performance.Lot) {
	f.agentIDs = append(f.agentIDs, agentID)
	f.ingested = append(f.ingested, lot)
}

func TestOppositeSideFillClosesOldestOpenTradeFIFO(t *testing.T) {
	existing := types.ShadowTrade{
		ID: "t1", Symbol: "SPY", Side: types.SideBuy,
		Quantity: money.FromInt(10), EntryPrice: money.MustParse("100"),
		Status: types.TradeOpen, CreatedAt: time.Now().Add(-time.Hour),
		AgentProvenance: types.AgentProvenance{AgentID: "agent-a"},
	}
	store := &fakeStore{status: &types.TradingStatus{Enabled: true}, open: []types.ShadowTrade{existing}}
	flag := fakeFlag{shadow: true}
	quoter := fakeQuoter{quote: types.Quote{Bid: money.MustParse("109"), Ask: money.MustParse("111")}}
	sink := &fakePerfSink{}
	ex := shadow.New(zap.NewNop(), store, flag, quoter, nil, sink)

	d := baseDecision()
	d.Action = types.SignalSell
	d.Allocation = money.MustParse("0.1")

	res, err := ex.Execute(context.Background(), d, signedEnvelope(t), true)
	require.NoError(t, err)
	require.True(t, res.Executed)

	require.Len(t, res.Closed, 1)
	assert.Equal(t, types.TradeClosed, res.Closed[0].Status)
	assert.True(t, res.Closed[0].CurrentPnL.Equal(money.MustParse("100")))

	require.Len(t, sink.ingested, 1)
	assert.Equal(t, "agent-a", sink.agentIDs[0])
	assert.True(t, sink.ingested[0].RealizedPnL.Equal(money.MustParse("100")))
}

type quoteSequencer struct{ calls *int }

func (q quoteSequencer) GetQuote(ctx context.Context, symbol string) (types.Quote, error) {
	*q.calls++
	if symbol == "QQQ" {
		return types.Quote{}, errors.New("no quote")
	}
	return types.Quote{Bid: money.MustParse("101"), Ask: money.MustParse("103")}, nil
}
