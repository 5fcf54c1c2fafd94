// Package securecache is the HMAC-integrity-checked persistent cache. Every
// stored record wraps an encrypted envelope with an outer storage-level tag;
// records failing verification read as absent, never as partial data.
package securecache

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"walletd/internal/domain"
	cryptoinfra "walletd/internal/infra/crypto"
	"walletd/internal/infra/storage"
	"walletd/internal/usecase"
)

var _ usecase.SecureStore = (*Cache)(nil)

type record struct {
	Envelope  domain.EncryptedEnvelope `json:"envelope"`
	HMAC      string                   `json:"hmac"`
	Timestamp int64                    `json:"ts"`
	ExpiresAt int64                    `json:"expires_at,omitempty"`
}

type Cache struct {
	store    storage.Store
	codec    *cryptoinfra.Codec
	recorder domain.SecurityRecorder
	clock    func() time.Time
}

func New(store storage.Store, codec *cryptoinfra.Codec, recorder domain.SecurityRecorder, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{store: store, codec: codec, recorder: recorder, clock: clock}
}

func (c *Cache) Put(ctx context.Context, key string, value any, scope string) error {
	return c.put(ctx, key, value, scope, 0)
}

// PutTTL stores a value that reads as absent after ttl elapses.
func (c *Cache) PutTTL(ctx context.Context, key string, value any, scope string, ttl time.Duration) error {
	expires := c.clock().Add(ttl).UnixMilli()
	return c.put(ctx, key, value, scope, expires)
}

func (c *Cache) put(ctx context.Context, key string, value any, scope string, expiresAt int64) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", key, err)
	}
	env, err := c.codec.Encrypt(ctx, plaintext, scope)
	if err != nil {
		return err
	}
	return c.write(ctx, key, env, scope, expiresAt)
}

// Get loads and verifies a record. Missing, expired or tampered records all
// come back as (false, nil); tampering additionally raises a
// data_integrity_violation event. A record sealed under a superseded key
// generation is transparently re-encrypted under the current one.
func (c *Cache) Get(ctx context.Context, key string, scope string, out any) (bool, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if err == domain.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.violation(ctx, key, "undecodable record")
		return false, nil
	}
	if rec.ExpiresAt > 0 && c.clock().UnixMilli() >= rec.ExpiresAt {
		_ = c.store.Delete(ctx, key)
		return false, nil
	}
	expected, err := c.recordTag(ctx, rec, scope)
	if err != nil {
		c.violation(ctx, key, "unknown key generation")
		return false, nil
	}
	stored, err := hex.DecodeString(rec.HMAC)
	if err != nil || !hmac.Equal(stored, expected) {
		c.violation(ctx, key, "outer hmac mismatch")
		return false, nil
	}
	plaintext, err := c.codec.Decrypt(ctx, rec.Envelope, scope)
	if err != nil {
		c.violation(ctx, key, "envelope rejected")
		return false, nil
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		c.violation(ctx, key, "payload decode failed")
		return false, nil
	}
	if c.codec.Stale(ctx, rec.Envelope) {
		// Write-behind key migration: the read already succeeded, a
		// failed rewrite just means another chance on the next read.
		if env, err := c.codec.Encrypt(ctx, plaintext, scope); err == nil {
			_ = c.write(ctx, key, env, scope, rec.ExpiresAt)
		}
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Cache) write(ctx context.Context, key string, env domain.EncryptedEnvelope, scope string, expiresAt int64) error {
	rec := record{
		Envelope:  env,
		Timestamp: c.clock().UTC().UnixMilli(),
		ExpiresAt: expiresAt,
	}
	tag, err := c.recordTag(ctx, rec, scope)
	if err != nil {
		return err
	}
	rec.HMAC = hex.EncodeToString(tag)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, key, raw)
}

// recordTag covers the serialized envelope and both timestamps, keyed by the
// generation the envelope itself names so archived-generation records stay
// verifiable after a rotation.
func (c *Cache) recordTag(ctx context.Context, rec record, scope string) ([]byte, error) {
	envJSON, err := json.Marshal(rec.Envelope)
	if err != nil {
		return nil, err
	}
	payload := fmt.Sprintf("%s|%d|%d", envJSON, rec.Timestamp, rec.ExpiresAt)
	return c.codec.RecordTag(ctx, rec.Envelope.Version, scope, []byte(payload))
}

func (c *Cache) violation(ctx context.Context, key, reason string) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(ctx, domain.SecurityEvent{
		EventType: domain.EventDataIntegrityViolation,
		Details:   map[string]any{"key": key, "reason": reason},
	})
}
