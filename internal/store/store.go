// Package store is the sole owner of persistence paths. Every other
// package reaches Firestore only through the typed accessors here, never
// through a raw path string (invariant I1: every per-tenant and per-user
// write is rooted at tenants/{tid}/; shared system records live under
// systemStatus/).
package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/atlas-desktop/trading-core/internal/corerr"
	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store wraps a Firestore client with the literal path scheme of the
// tenanted tree, plus a read-only legacy reader for the deprecated
// root-level users/{uid}/... tree.
type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// New wraps an already-constructed Firestore client.
func New(client *firestore.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

func tenantDoc(tid string) string { return fmt.Sprintf("tenants/%s", tid) }
func userDoc(tid, uid string) string {
	return fmt.Sprintf("tenants/%s/users/%s", tid, uid)
}

// GetTenant reads the tenant root document.
func (s *Store) GetTenant(ctx context.Context, tid string) (*types.Tenant, error) {
	snap, err := s.client.Doc(tenantDoc(tid)).Get(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "get tenant", err)
	}
	var t types.Tenant
	if err := snap.DataTo(&t); err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "decode tenant", err)
	}
	return &t, nil
}

// ListActiveUsers range-queries every onboarded user under a tenant, the
// fan-out seed for the Heartbeat Scheduler.
func (s *Store) ListActiveUsers(ctx context.Context, tid string) ([]types.User, error) {
	iter := s.client.Collection(tenantDoc(tid)+"/users").Where("onboarded", "==", true).Documents(ctx)
	defer iter.Stop()

	var users []types.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.KindTransientIO, "list users", err)
		}
		var u types.User
		if err := doc.DataTo(&u); err != nil {
			return nil, corerr.Wrap(corerr.KindValidation, "decode user", err)
		}
		users = append(users, u)
	}
	return users, nil
}

// ListTenants range-queries every active tenant, the outer fan-out seed.
func (s *Store) ListTenants(ctx context.Context) ([]types.Tenant, error) {
	iter := s.client.Collection("tenants").Where("active", "==", true).Documents(ctx)
	defer iter.Stop()

	var tenants []types.Tenant
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.KindTransientIO, "list tenants", err)
		}
		var t types.Tenant
		if err := doc.DataTo(&t); err != nil {
			return nil, corerr.Wrap(corerr.KindValidation, "decode tenant", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

// GetUserConfig reads the per-user broker configuration.
func (s *Store) GetUserConfig(ctx context.Context, tid, uid string) (*types.UserConfig, error) {
	snap, err := s.client.Doc(userDoc(tid, uid) + "/config/alpaca").Get(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "get user config", err)
	}
	var cfg types.UserConfig
	if err := snap.DataTo(&cfg); err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "decode user config", err)
	}
	return &cfg, nil
}

// GetTradingStatus reads the per-user kill-switch. Callers must treat any
// read error as disabled (fail-closed).
func (s *Store) GetTradingStatus(ctx context.Context, tid, uid string) (*types.TradingStatus, error) {
	snap, err := s.client.Doc(userDoc(tid, uid) + "/status/trading").Get(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "get trading status", err)
	}
	var ts types.TradingStatus
	if err := snap.DataTo(&ts); err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "decode trading status", err)
	}
	return &ts, nil
}

// TripKillSwitch disables trading for a user. One-way: callers never call
// this to re-enable.
func (s *Store) TripKillSwitch(ctx context.Context, tid, uid, disabledBy, reason string) error {
	_, err := s.client.Doc(userDoc(tid, uid)+"/status/trading").Set(ctx, types.TradingStatus{
		Enabled:    false,
		DisabledBy: disabledBy,
		Reason:     reason,
		Since:      time.Now(),
	})
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "trip kill switch", err)
	}
	return nil
}

// PutAccountSnapshot overwrites the per-user account snapshot each tick.
func (s *Store) PutAccountSnapshot(ctx context.Context, tid, uid string, snap types.AccountSnapshot) error {
	_, err := s.client.Doc(userDoc(tid, uid) + "/data/snapshot").Set(ctx, snap)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put account snapshot", err)
	}
	return nil
}

// PutSyncError records the most recent per-unit error, overwriting any
// prior value.
func (s *Store) PutSyncError(ctx context.Context, tid, uid, message string) error {
	_, err := s.client.Doc(userDoc(tid, uid)+"/status/last_sync_error").Set(ctx, map[string]any{
		"message": message,
		"at":      time.Now(),
	})
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put sync error", err)
	}
	return nil
}

// CreateShadowTrade writes a new OPEN trade, generating its document ID.
func (s *Store) CreateShadowTrade(ctx context.Context, tid, uid string, trade types.ShadowTrade) (string, error) {
	ref := s.client.Collection(userDoc(tid, uid) + "/shadowTradeHistory").NewDoc()
	trade.ID = ref.ID
	if _, err := ref.Set(ctx, trade); err != nil {
		return "", corerr.Wrap(corerr.KindTransientIO, "create shadow trade", err)
	}
	return ref.ID, nil
}

// ListOpenShadowTrades range-queries all OPEN trades for a user, the input
// to the P&L Materializer.
func (s *Store) ListOpenShadowTrades(ctx context.Context, tid, uid string) ([]types.ShadowTrade, error) {
	iter := s.client.Collection(userDoc(tid, uid) + "/shadowTradeHistory").
		Where("status", "==", string(types.TradeOpen)).Documents(ctx)
	defer iter.Stop()

	var trades []types.ShadowTrade
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.KindTransientIO, "list open trades", err)
		}
		var t types.ShadowTrade
		if err := doc.DataTo(&t); err != nil {
			return nil, corerr.Wrap(corerr.KindValidation, "decode shadow trade", err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// UpdateShadowTrade rewrites a trade in place (mark-to-market, or the
// one-way OPEN->CLOSED transition). Never call after Status == CLOSED (I3).
func (s *Store) UpdateShadowTrade(ctx context.Context, tid, uid string, trade types.ShadowTrade) error {
	if trade.ID == "" {
		return corerr.New(corerr.KindInvariantViolation, "shadow trade update missing id")
	}
	_, err := s.client.Doc(userDoc(tid, uid)+"/shadowTradeHistory/"+trade.ID).Set(ctx, trade)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "update shadow trade", err)
	}
	return nil
}

// ListRecentShadowTrades range-queries trades since a cutoff, used by the
// Watchdog's losing-streak and drawdown detectors.
func (s *Store) ListRecentShadowTrades(ctx context.Context, tid, uid string, since time.Time) ([]types.ShadowTrade, error) {
	iter := s.client.Collection(userDoc(tid, uid) + "/shadowTradeHistory").
		Where("lastUpdated", ">=", since).OrderBy("lastUpdated", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var trades []types.ShadowTrade
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.KindTransientIO, "list recent trades", err)
		}
		var t types.ShadowTrade
		if err := doc.DataTo(&t); err != nil {
			return nil, corerr.Wrap(corerr.KindValidation, "decode shadow trade", err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// PutSignal appends a ConsensusSignal audit record.
func (s *Store) PutSignal(ctx context.Context, tid, uid string, sig types.ConsensusSignal) error {
	ref := s.client.Collection(userDoc(tid, uid) + "/signals").NewDoc()
	sig.ID = ref.ID
	if _, err := ref.Set(ctx, sig); err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put signal", err)
	}
	return nil
}

// PutAlert appends an operator-facing alert.
func (s *Store) PutAlert(ctx context.Context, tid, uid string, alert types.Alert) error {
	ref := s.client.Collection(userDoc(tid, uid) + "/alerts").NewDoc()
	alert.ID = ref.ID
	if _, err := ref.Set(ctx, alert); err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put alert", err)
	}
	return nil
}

// PutWatchdogEvent appends an append-only anomaly record.
func (s *Store) PutWatchdogEvent(ctx context.Context, tid, uid string, ev types.WatchdogEvent) error {
	ref := s.client.Collection(userDoc(tid, uid) + "/watchdog_events").NewDoc()
	ev.ID = ref.ID
	if _, err := ref.Set(ctx, ev); err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put watchdog event", err)
	}
	return nil
}

// PutWhaleFlow appends a scored flow print.
func (s *Store) PutWhaleFlow(ctx context.Context, tid, uid string, flow types.WhaleFlow) error {
	ref := s.client.Collection(userDoc(tid, uid) + "/whaleFlow").NewDoc()
	flow.ID = ref.ID
	if _, err := ref.Set(ctx, flow); err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put whale flow", err)
	}
	return nil
}

// ListRecentWhaleFlow range-queries flow prints since a cutoff, the
// recent_conviction lookback window.
func (s *Store) ListRecentWhaleFlow(ctx context.Context, tid, uid string, since time.Time) ([]types.WhaleFlow, error) {
	iter := s.client.Collection(userDoc(tid, uid) + "/whaleFlow").
		Where("ts", ">=", since).Documents(ctx)
	defer iter.Stop()

	var flows []types.WhaleFlow
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.KindTransientIO, "list whale flow", err)
		}
		var f types.WhaleFlow
		if err := doc.DataTo(&f); err != nil {
			return nil, corerr.Wrap(corerr.KindValidation, "decode whale flow", err)
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// PutMarketRegime overwrites the shared system-wide regime record for a
// symbol. Left untouched on error (C4's error-tolerant write rule lives in
// the caller, which skips this call entirely on failure).
func (s *Store) PutMarketRegime(ctx context.Context, symbol string, regime types.MarketRegime) error {
	_, err := s.client.Doc("systemStatus/market_regime/symbols/"+symbol).Set(ctx, regime)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put market regime", err)
	}
	return nil
}

// PutMarketRegimeError records a failed sync as a sibling document next to
// the regime record, leaving the last-good regime itself untouched.
func (s *Store) PutMarketRegimeError(ctx context.Context, symbol string, regimeErr types.MarketRegimeError) error {
	_, err := s.client.Doc("systemStatus/market_regime_error/symbols/"+symbol).Set(ctx, regimeErr)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put market regime error", err)
	}
	return nil
}

// GetMarketRegime reads the last-good regime record for a symbol.
func (s *Store) GetMarketRegime(ctx context.Context, symbol string) (*types.MarketRegime, error) {
	snap, err := s.client.Doc("systemStatus/market_regime/symbols/" + symbol).Get(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "get market regime", err)
	}
	var r types.MarketRegime
	if err := snap.DataTo(&r); err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "decode market regime", err)
	}
	return &r, nil
}

// IsShadowMode reads the global is_shadow_mode switch from
// systemStatus/flags. Any read error, including a missing document, is the
// caller's responsibility to treat as fail-closed (true); this accessor
// only reports what Firestore actually holds.
func (s *Store) IsShadowMode(ctx context.Context) (bool, error) {
	snap, err := s.client.Doc("systemStatus/flags").Get(ctx)
	if err != nil {
		return false, corerr.Wrap(corerr.KindTransientIO, "get shadow mode flag", err)
	}
	enabled, err := snap.DataAt("isShadowMode")
	if err != nil {
		return false, corerr.Wrap(corerr.KindValidation, "decode shadow mode flag", err)
	}
	b, ok := enabled.(bool)
	if !ok {
		return false, corerr.New(corerr.KindValidation, "isShadowMode field is not a bool")
	}
	return b, nil
}

// PutSecurityViolation appends a signature-failure record to the shared
// security log, independent of any single tenant.
func (s *Store) PutSecurityViolation(ctx context.Context, reason string) error {
	ref := s.client.Collection("systemStatus/security_log/violations").NewDoc()
	_, err := ref.Set(ctx, map[string]any{"reason": reason, "at": time.Now()})
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "put security violation", err)
	}
	return nil
}

// identityDoc implements identity.Store against the shared agent registry.
// Public key only: the private half never leaves the process that generated
// it and is never written here (I5).
type identityDoc struct {
	AgentID      string    `firestore:"agentId"`
	PublicKey    string    `firestore:"publicKey"` // base64
	RegisteredAt time.Time `firestore:"registeredAt"`
}

// LoadIdentity implements identity.Store.
func (s *Store) LoadIdentity(ctx context.Context, agentID string) (*identity.Record, bool, error) {
	snap, err := s.client.Doc("systemStatus/agent_registry/agents/" + agentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, corerr.Wrap(corerr.KindTransientIO, "load identity", err)
	}
	var doc identityDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, false, corerr.Wrap(corerr.KindValidation, "decode identity", err)
	}
	pub, err := base64.StdEncoding.DecodeString(doc.PublicKey)
	if err != nil {
		return nil, false, corerr.Wrap(corerr.KindValidation, "decode public key", err)
	}
	return &identity.Record{AgentID: doc.AgentID, PublicKey: pub, RegisteredAt: doc.RegisteredAt}, true, nil
}

// SaveIdentity implements identity.Store, upserting the public key only.
func (s *Store) SaveIdentity(ctx context.Context, rec *identity.Record) error {
	doc := identityDoc{
		AgentID:      rec.AgentID,
		PublicKey:    base64.StdEncoding.EncodeToString(rec.PublicKey),
		RegisteredAt: rec.RegisteredAt,
	}
	_, err := s.client.Doc("systemStatus/agent_registry/agents/" + rec.AgentID).Set(ctx, doc)
	if err != nil {
		return corerr.Wrap(corerr.KindTransientIO, "save identity", err)
	}
	return nil
}

// LegacyUserExists reports whether a document exists in the deprecated
// root-level users/{uid} tree; it only reads, logs nothing, and no code in
// this module calls it. The legacy tree is never written.
func (s *Store) LegacyUserExists(ctx context.Context, uid string) (bool, error) {
	snap, err := s.client.Doc("users/" + uid).Get(ctx)
	if err != nil {
		return false, nil
	}
	return snap.Exists(), nil
}
