// Package crypto implements the authenticated envelope codec: AES-256-GCM
// for confidentiality plus a context-salted HMAC over (iv, ciphertext) so
// envelopes from different namespaces are never interchangeable.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"walletd/internal/domain"
	"walletd/internal/infra/keys"
	"walletd/internal/usecase"

	"golang.org/x/crypto/hkdf"
)

const gcmNonceSize = 12

var _ usecase.Sealer = (*Codec)(nil)

type Codec struct {
	keys  *keys.Manager
	clock func() time.Time
	rand  io.Reader
}

func NewCodec(manager *keys.Manager, clock func() time.Time) *Codec {
	if clock == nil {
		clock = time.Now
	}
	return &Codec{keys: manager, clock: clock, rand: rand.Reader}
}

// Encrypt seals plaintext under the current generation. The scope string is
// a caller-supplied namespace that salts the HMAC, so the same plaintext
// encrypted for "payment_data" cannot be replayed as, say, "auth_token".
func (c *Codec) Encrypt(ctx context.Context, plaintext []byte, scope string) (domain.EncryptedEnvelope, error) {
	key, err := c.keys.CurrentKey(ctx)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return domain.EncryptedEnvelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	gcm, err := newGCM(key.AESKey)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(scope))

	tag, err := envelopeTag(key.HMACKey, scope, nonce, ciphertext)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	return domain.EncryptedEnvelope{
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		Auth:      hex.EncodeToString(tag),
		Version:   key.VersionString(),
		Timestamp: c.clock().UTC().UnixMilli(),
	}, nil
}

// Decrypt verifies the envelope's HMAC with the key generation it names and
// only then opens the ciphertext. Any disagreement is domain.ErrIntegrity.
func (c *Codec) Decrypt(ctx context.Context, env domain.EncryptedEnvelope, scope string) ([]byte, error) {
	key, ok := c.keys.KeyForVersion(ctx, env.Version)
	if !ok {
		return nil, fmt.Errorf("envelope version %q: %w", env.Version, domain.ErrKeyVersionUnknown)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", domain.ErrIntegrity)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", domain.ErrIntegrity)
	}
	stored, err := hex.DecodeString(env.Auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", domain.ErrIntegrity)
	}
	expected, err := envelopeTag(key.HMACKey, scope, nonce, ciphertext)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(stored, expected) {
		return nil, fmt.Errorf("envelope hmac mismatch: %w", domain.ErrIntegrity)
	}
	gcm, err := newGCM(key.AESKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("bad nonce length: %w", domain.ErrIntegrity)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(scope))
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", domain.ErrIntegrity)
	}
	return plaintext, nil
}

// Stale reports whether the envelope was sealed under a superseded
// generation, so callers can re-encrypt on read.
func (c *Codec) Stale(ctx context.Context, env domain.EncryptedEnvelope) bool {
	key, err := c.keys.CurrentKey(ctx)
	if err != nil {
		return false
	}
	return env.Version != key.VersionString()
}

// RecordTag computes an integrity tag over arbitrary record bytes under the
// named key generation, salted with the given context. SecureCache uses this
// as its outer, storage-level HMAC.
func (c *Codec) RecordTag(ctx context.Context, version, scope string, record []byte) ([]byte, error) {
	key, ok := c.keys.KeyForVersion(ctx, version)
	if !ok {
		return nil, fmt.Errorf("record version %q: %w", version, domain.ErrKeyVersionUnknown)
	}
	sub, err := deriveSubkey(key.HMACKey, "record:"+scope)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, sub)
	mac.Write(record)
	return mac.Sum(nil), nil
}

// SignRequest produces the transport request signature: HMAC-SHA256 of
// "timestamp:nonce" under the current generation's HMAC key.
func (c *Codec) SignRequest(ctx context.Context, payload string) (string, error) {
	key, err := c.keys.CurrentKey(ctx)
	if err != nil {
		return "", err
	}
	sub, err := deriveSubkey(key.HMACKey, "request")
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, sub)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func envelopeTag(hmacKey []byte, scope string, nonce, ciphertext []byte) ([]byte, error) {
	sub, err := deriveSubkey(hmacKey, "envelope:"+scope)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, sub)
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil), nil
}

func deriveSubkey(hmacKey []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, hmacKey, nil, []byte(info))
	sub := make([]byte, domain.HMACKeySize)
	if _, err := io.ReadFull(reader, sub); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return sub, nil
}

func newGCM(aesKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}
	return gcm, nil
}
