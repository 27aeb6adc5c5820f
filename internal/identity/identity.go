// Package identity implements the per-strategy cryptographic identity vault
// (C2): one ED25519 keypair per agent_id, canonical-payload signing and
// verification, and nonce replay detection.
package identity

import (
	"bytes"
	"container/list"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/corerr"
	"go.uber.org/zap"
)

// Record is the persisted public half of an agent's identity. The private
// key never leaves the process that generated it (I5).
type Record struct {
	AgentID      string
	PublicKey    ed25519.PublicKey
	RegisteredAt time.Time
}

// Store is the persistence boundary the vault depends on; internal/store
// provides the Firestore-backed implementation. Only the public half of an
// identity ever crosses this boundary (I5).
type Store interface {
	LoadIdentity(ctx context.Context, agentID string) (*Record, bool, error)
	SaveIdentity(ctx context.Context, rec *Record) error
}

// Signed is a canonically-serialized, signed payload envelope.
type Signed struct {
	AgentID   string          `json:"agentId"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"` // base64
}

const nonceWindow = 4096

// Vault holds the keypairs generated in process memory (only public keys
// are loaded lazily from Store, for verification) and the
// replay-detection nonce set shared across all agents.
type Vault struct {
	logger *zap.Logger
	store  Store

	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
	pubs map[string]ed25519.PublicKey

	nonceMu   sync.Mutex
	nonceSeen map[string]*list.Element
	nonceLRU  *list.List
}

// New constructs a Vault backed by store.
func New(logger *zap.Logger, store Store) *Vault {
	return &Vault{
		logger:    logger,
		store:     store,
		keys:      make(map[string]ed25519.PrivateKey),
		pubs:      make(map[string]ed25519.PublicKey),
		nonceSeen: make(map[string]*list.Element),
		nonceLRU:  list.New(),
	}
}

// RegisterOrLoad returns the agent's signing keypair, generating a fresh one
// in process memory on first use this run and upserting the public half to
// Store. The private key is never read back from Store and never persisted:
// a process restart always re-registers every agent with a new keypair, and
// the previous key is simply superseded (I5, §3 lifecycle).
func (v *Vault) RegisterOrLoad(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	v.mu.RLock()
	if pub, ok := v.pubs[agentID]; ok {
		if _, signable := v.keys[agentID]; signable {
			v.mu.RUnlock()
			return pub, nil
		}
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if pub, ok := v.pubs[agentID]; ok {
		if _, signable := v.keys[agentID]; signable {
			return pub, nil
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindSecurityViolation, "generate keypair", err)
	}
	rec := &Record{AgentID: agentID, PublicKey: pub, RegisteredAt: time.Now()}
	if err := v.store.SaveIdentity(ctx, rec); err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "save identity", err)
	}
	v.keys[agentID] = priv
	v.pubs[agentID] = pub
	v.logger.Info("registered new agent identity", zap.String("agentId", agentID))
	return pub, nil
}

// loadPublicKey resolves agentID's public key for verification, checking the
// in-memory cache first and falling back to Store for identities registered
// by another process.
func (v *Vault) loadPublicKey(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	v.mu.RLock()
	if pub, ok := v.pubs[agentID]; ok {
		v.mu.RUnlock()
		return pub, nil
	}
	v.mu.RUnlock()

	rec, found, err := v.store.LoadIdentity(ctx, agentID)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTransientIO, "load identity", err)
	}
	if !found {
		return nil, corerr.New(corerr.KindSecurityViolation, "unknown agent: "+agentID)
	}

	v.mu.Lock()
	v.pubs[agentID] = rec.PublicKey
	v.mu.Unlock()
	return rec.PublicKey, nil
}

// Sign canonicalizes payload (stable key ordering) and signs it with
// agentID's private key, generating a fresh nonce.
func (v *Vault) Sign(ctx context.Context, agentID string, payload any) (*Signed, error) {
	if _, err := v.RegisterOrLoad(ctx, agentID); err != nil {
		return nil, err
	}
	v.mu.RLock()
	priv, ok := v.keys[agentID]
	v.mu.RUnlock()
	if !ok {
		return nil, corerr.New(corerr.KindSecurityViolation, "unknown agent: "+agentID)
	}

	raw, err := canonicalize(payload)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindValidation, "canonicalize payload", err)
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, corerr.Wrap(corerr.KindSecurityViolation, "generate nonce", err)
	}
	sig := ed25519.Sign(priv, signingBytes(agentID, nonce, raw))
	return &Signed{
		AgentID:   agentID,
		Nonce:     nonce,
		Payload:   raw,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks a Signed envelope's signature against the registered public
// key and rejects replayed nonces. Unknown agents and bad signatures return
// a KindSecurityViolation error.
func (v *Vault) Verify(ctx context.Context, s *Signed) error {
	pub, err := v.loadPublicKey(ctx, s.AgentID)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(s.Signature)
	if err != nil {
		return corerr.Wrap(corerr.KindSecurityViolation, "decode signature", err)
	}
	if !ed25519.Verify(pub, signingBytes(s.AgentID, s.Nonce, s.Payload), sig) {
		return corerr.New(corerr.KindSecurityViolation, "signature verification failed")
	}
	if v.seenNonce(s.Nonce) {
		return corerr.New(corerr.KindSecurityViolation, "replayed nonce")
	}
	return nil
}

func (v *Vault) seenNonce(nonce string) bool {
	v.nonceMu.Lock()
	defer v.nonceMu.Unlock()
	if _, ok := v.nonceSeen[nonce]; ok {
		return true
	}
	el := v.nonceLRU.PushBack(nonce)
	v.nonceSeen[nonce] = el
	if v.nonceLRU.Len() > nonceWindow {
		oldest := v.nonceLRU.Front()
		v.nonceLRU.Remove(oldest)
		delete(v.nonceSeen, oldest.Value.(string))
	}
	return false
}

func signingBytes(agentID, nonce string, payload json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString(agentID)
	buf.WriteByte(0)
	buf.WriteString(nonce)
	buf.WriteByte(0)
	buf.Write(payload)
	return buf.Bytes()
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// canonicalize marshals v to JSON with map keys sorted lexicographically so
// the signature is deterministic regardless of struct field or map
// iteration order.
func canonicalize(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(sortKeys(generic))
}

func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, sortKeys(t[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	Key string
	Val any
}

// orderedMap marshals as a JSON object preserving insertion order, used to
// emit sorted map keys without Go's native map randomization leaking in.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pair := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(pair.Val)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
