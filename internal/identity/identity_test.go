package identity_test

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore holds only public records, mirroring the real Firestore-backed
// store: no private key ever reaches it.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*identity.Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*identity.Record)}
}

func (s *memStore) LoadIdentity(ctx context.Context, agentID string) (*identity.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[agentID]
	if !ok {
		return nil, false, nil
	}
	return rec, true, nil
}

func (s *memStore) SaveIdentity(ctx context.Context, rec *identity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.AgentID] = rec
	return nil
}

func TestSignVerifyRoundtrip(t *testing.T) {
	v := identity.New(zap.NewNop(), newMemStore())
	ctx := context.Background()

	signed, err := v.Sign(ctx, "agent-momentum", map[string]any{"action": "BUY", "confidence": "0.8"})
	require.NoError(t, err)
	require.NoError(t, v.Verify(ctx, signed))
}

func TestVerifyRejectsUnknownAgent(t *testing.T) {
	v := identity.New(zap.NewNop(), newMemStore())
	signed, err := v.Sign(context.Background(), "agent-a", map[string]any{"x": 1})
	require.NoError(t, err)

	other := identity.New(zap.NewNop(), newMemStore())
	err = other.Verify(context.Background(), signed)
	require.Error(t, err)
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	v := identity.New(zap.NewNop(), newMemStore())
	ctx := context.Background()
	signed, err := v.Sign(ctx, "agent-a", map[string]any{"x": 1})
	require.NoError(t, err)

	require.NoError(t, v.Verify(ctx, signed))
	err = v.Verify(ctx, signed)
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := identity.New(zap.NewNop(), newMemStore())
	ctx := context.Background()
	signed, err := v.Sign(ctx, "agent-a", map[string]any{"x": 1})
	require.NoError(t, err)

	signed.Payload = []byte(`{"x":2}`)
	assert.Error(t, v.Verify(ctx, signed))
}

// TestRestartMintsFreshKeypair documents I5: the private key never persists,
// so a second Vault sharing the same Store (simulating a process restart)
// registers the agent with a brand new keypair rather than loading the
// first Vault's.
func TestRestartMintsFreshKeypair(t *testing.T) {
	store := newMemStore()
	v1 := identity.New(zap.NewNop(), store)
	ctx := context.Background()

	pub1, err := v1.RegisterOrLoad(ctx, "agent-a")
	require.NoError(t, err)

	v2 := identity.New(zap.NewNop(), store)
	pub2, err := v2.RegisterOrLoad(ctx, "agent-a")
	require.NoError(t, err)

	assert.NotEqual(t, pub1, pub2, "restart must mint a new keypair, never reload a persisted private key")

	rec, found, err := store.LoadIdentity(ctx, "agent-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pub2, ed25519.PublicKey(rec.PublicKey), "store should reflect the latest process's public key")
}

// TestVerifyLoadsPublicKeyFromStore confirms a Vault that never signed for
// an agent can still verify its signatures by reading the public key alone.
func TestVerifyLoadsPublicKeyFromStore(t *testing.T) {
	store := newMemStore()
	signer := identity.New(zap.NewNop(), store)
	ctx := context.Background()

	signed, err := signer.Sign(ctx, "agent-a", map[string]any{"x": 1})
	require.NoError(t, err)

	verifier := identity.New(zap.NewNop(), store)
	require.NoError(t, verifier.Verify(ctx, signed))
}

func TestRegisteredAtIsSet(t *testing.T) {
	store := newMemStore()
	v := identity.New(zap.NewNop(), store)
	before := time.Now()
	_, err := v.RegisterOrLoad(context.Background(), "agent-a")
	require.NoError(t, err)

	rec, found, err := store.LoadIdentity(context.Background(), "agent-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, rec.RegisteredAt.Before(before))
}
