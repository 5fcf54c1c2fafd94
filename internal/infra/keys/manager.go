// Package keys owns the wallet's symmetric key lifecycle: generation on
// first use, 30-day rotation with exactly one archived generation, and
// version lookup for decrypting older envelopes.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"walletd/internal/domain"
	"walletd/internal/infra/storage"
)

const (
	storageKeyCurrent   = "keys/current"
	storageKeyPrevious  = "keys/previous"
	storageKeyVersion   = "keys/version"
	storageKeyRotatedAt = "keys/rotated_at"
)

const DefaultRotationInterval = 30 * 24 * time.Hour

type ManagerConfig struct {
	Store            storage.Store
	Recorder         domain.SecurityRecorder
	Clock            func() time.Time
	Rand             io.Reader
	RotationInterval time.Duration
}

type Manager struct {
	mu       sync.RWMutex
	store    storage.Store
	recorder domain.SecurityRecorder
	clock    func() time.Time
	rand     io.Reader
	interval time.Duration

	loaded   bool
	current  *domain.KeyMaterial
	previous *domain.KeyMaterial
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = DefaultRotationInterval
	}
	return &Manager{
		store:    cfg.Store,
		recorder: cfg.Recorder,
		clock:    cfg.Clock,
		rand:     cfg.Rand,
		interval: cfg.RotationInterval,
	}
}

// CurrentKey returns the active generation, creating version 1 on first use.
func (m *Manager) CurrentKey(ctx context.Context) (domain.KeyMaterial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return domain.KeyMaterial{}, err
	}
	if m.current == nil {
		key, err := m.generate(1)
		if err != nil {
			return domain.KeyMaterial{}, err
		}
		if err := m.persistKey(ctx, storageKeyCurrent, key); err != nil {
			return domain.KeyMaterial{}, fmt.Errorf("persist initial key: %w", err)
		}
		if err := m.store.Put(ctx, storageKeyVersion, []byte("1")); err != nil {
			return domain.KeyMaterial{}, fmt.Errorf("persist key version: %w", err)
		}
		m.current = &key
	}
	return cloneKey(*m.current), nil
}

// KeyForVersion resolves a generation by its version string. Only the
// current and the single archived generation are retrievable.
func (m *Manager) KeyForVersion(ctx context.Context, version string) (domain.KeyMaterial, bool) {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if !loaded {
		// Force the first-use load (and generation) path.
		if _, err := m.CurrentKey(ctx); err != nil {
			return domain.KeyMaterial{}, false
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current != nil && m.current.VersionString() == version {
		return cloneKey(*m.current), true
	}
	if m.previous != nil && m.previous.VersionString() == version {
		return cloneKey(*m.previous), true
	}
	return domain.KeyMaterial{}, false
}

// Rotate replaces the active generation and archives the one it supersedes.
// The swap is all-or-nothing: on any persistence failure the previous state
// is restored and the in-memory view is left untouched.
func (m *Manager) Rotate(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	if m.current == nil {
		key, err := m.generate(1)
		if err != nil {
			return 0, m.rotationFailed(ctx, err)
		}
		if err := m.persistKey(ctx, storageKeyCurrent, key); err != nil {
			return 0, m.rotationFailed(ctx, err)
		}
		if err := m.store.Put(ctx, storageKeyVersion, []byte("1")); err != nil {
			return 0, m.rotationFailed(ctx, err)
		}
		m.current = &key
		m.record(ctx, domain.EventKeyRotated, map[string]any{"version": key.Version})
		return key.Version, nil
	}

	now := m.clock().UTC()
	next, err := m.generate(m.current.Version + 1)
	if err != nil {
		return 0, m.rotationFailed(ctx, err)
	}
	archived := cloneKey(*m.current)
	archived.RotatedAt = now

	oldPrevious := m.previous
	if err := m.persistKey(ctx, storageKeyPrevious, archived); err != nil {
		m.rollbackPrevious(ctx, oldPrevious)
		return 0, m.rotationFailed(ctx, err)
	}
	if err := m.persistKey(ctx, storageKeyCurrent, next); err != nil {
		m.rollbackCurrent(ctx, *m.current)
		m.rollbackPrevious(ctx, oldPrevious)
		return 0, m.rotationFailed(ctx, err)
	}
	if err := m.store.Put(ctx, storageKeyVersion, []byte(next.VersionString())); err != nil {
		m.rollbackCurrent(ctx, *m.current)
		m.rollbackPrevious(ctx, oldPrevious)
		return 0, m.rotationFailed(ctx, err)
	}
	// Best effort; rotation time also lives on the archived generation.
	_ = m.store.Put(ctx, storageKeyRotatedAt, []byte(now.Format(time.RFC3339Nano)))

	m.previous = &archived
	m.current = &next
	m.record(ctx, domain.EventKeyRotated, map[string]any{"version": next.Version})
	return next.Version, nil
}

// RotateIfDue applies the rotation policy, normally once at startup. A due
// rotation that fails is reported as a security event and as an error, but
// the previous generation stays fully usable.
func (m *Manager) RotateIfDue(ctx context.Context) (bool, error) {
	if _, err := m.CurrentKey(ctx); err != nil {
		return false, err
	}
	m.mu.RLock()
	last := m.current.CreatedAt
	if !m.current.RotatedAt.IsZero() {
		last = m.current.RotatedAt
	}
	due := m.clock().UTC().Sub(last) >= m.interval
	m.mu.RUnlock()
	if !due {
		return false, nil
	}
	if _, err := m.Rotate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	current, err := m.loadKey(ctx, storageKeyCurrent)
	if err != nil {
		return err
	}
	previous, err := m.loadKey(ctx, storageKeyPrevious)
	if err != nil {
		return err
	}
	if current != nil {
		if err := m.checkVersionRecord(ctx, *current); err != nil {
			return err
		}
	}
	m.current = current
	m.previous = previous
	m.loaded = true
	return nil
}

// checkVersionRecord cross-checks the standalone version counter against the
// loaded current generation; a mismatch means the key records were tampered
// with or partially restored.
func (m *Manager) checkVersionRecord(ctx context.Context, current domain.KeyMaterial) error {
	raw, err := m.store.Get(ctx, storageKeyVersion)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load %s: %w", storageKeyVersion, err)
	}
	if string(raw) != current.VersionString() {
		return fmt.Errorf("version record %q does not match current key %s: %w",
			raw, current.VersionString(), domain.ErrIntegrity)
	}
	return nil
}

func (m *Manager) loadKey(ctx context.Context, key string) (*domain.KeyMaterial, error) {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	var material domain.KeyMaterial
	if err := json.Unmarshal(raw, &material); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if !material.Complete() {
		return nil, fmt.Errorf("decode %s: %w", key, domain.ErrIntegrity)
	}
	return &material, nil
}

func (m *Manager) persistKey(ctx context.Context, storageKey string, material domain.KeyMaterial) error {
	raw, err := json.Marshal(material)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, storageKey, raw)
}

func (m *Manager) rollbackCurrent(ctx context.Context, old domain.KeyMaterial) {
	_ = m.persistKey(ctx, storageKeyCurrent, old)
}

func (m *Manager) rollbackPrevious(ctx context.Context, old *domain.KeyMaterial) {
	if old == nil {
		_ = m.store.Delete(ctx, storageKeyPrevious)
		return
	}
	_ = m.persistKey(ctx, storageKeyPrevious, *old)
}

func (m *Manager) rotationFailed(ctx context.Context, err error) error {
	m.record(ctx, domain.EventKeyRotationFailure, map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", domain.ErrKeyRotationFailed, err)
}

func (m *Manager) generate(version uint32) (domain.KeyMaterial, error) {
	aesKey := make([]byte, domain.AESKeySize)
	if _, err := io.ReadFull(m.rand, aesKey); err != nil {
		return domain.KeyMaterial{}, fmt.Errorf("generate aes key: %w", err)
	}
	hmacKey := make([]byte, domain.HMACKeySize)
	if _, err := io.ReadFull(m.rand, hmacKey); err != nil {
		return domain.KeyMaterial{}, fmt.Errorf("generate hmac key: %w", err)
	}
	return domain.KeyMaterial{
		Version:   version,
		AESKey:    aesKey,
		HMACKey:   hmacKey,
		CreatedAt: m.clock().UTC(),
	}, nil
}

func (m *Manager) record(ctx context.Context, eventType domain.SecurityEventType, details map[string]any) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ctx, domain.SecurityEvent{EventType: eventType, Details: details})
}

func cloneKey(k domain.KeyMaterial) domain.KeyMaterial {
	out := k
	out.AESKey = append([]byte(nil), k.AESKey...)
	out.HMACKey = append([]byte(nil), k.HMACKey...)
	return out
}
