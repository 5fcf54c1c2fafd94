package crypto

import (
	"context"
	"errors"
	"testing"
	"time"

	"walletd/internal/domain"
	"walletd/internal/infra/keys"
	"walletd/internal/infra/storage"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	clock := func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	manager := keys.NewManager(keys.ManagerConfig{
		Store: storage.NewMemory(),
		Clock: clock,
	})
	return NewCodec(manager, clock)
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	plaintext := []byte(`{"amount":"100.00","currency":"USD"}`)
	env, err := codec.Encrypt(ctx, plaintext, "payment_data")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if env.Version != "1" {
		t.Fatalf("expected envelope version 1, got %q", env.Version)
	}
	if env.Timestamp == 0 {
		t.Fatalf("expected non-zero envelope timestamp")
	}

	out, err := codec.Decrypt(ctx, env, "payment_data")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(out) != string(plaintext) {
		t.Fatalf("round-trip mismatch: got %q", out)
	}
}

func TestCodec_TamperDetection(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	env, err := codec.Encrypt(ctx, []byte("sensitive"), "payment_data")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(e *domain.EncryptedEnvelope)
	}{
		{"iv", func(e *domain.EncryptedEnvelope) { e.IV = flipBase64(t, e.IV) }},
		{"data", func(e *domain.EncryptedEnvelope) { e.Data = flipBase64(t, e.Data) }},
		{"auth", func(e *domain.EncryptedEnvelope) { e.Auth = flipHex(e.Auth) }},
		{"iv not base64", func(e *domain.EncryptedEnvelope) { e.IV = "!!!" }},
		{"data not base64", func(e *domain.EncryptedEnvelope) { e.Data = "!!!" }},
		{"auth not hex", func(e *domain.EncryptedEnvelope) { e.Auth = "zz" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutated := env
			tc.mutate(&mutated)
			if _, err := codec.Decrypt(ctx, mutated, "payment_data"); !errors.Is(err, domain.ErrIntegrity) {
				t.Fatalf("expected ErrIntegrity, got %v", err)
			}
		})
	}
}

func TestCodec_ScopeSeparation(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	env, err := codec.Encrypt(ctx, []byte("token-abc"), "auth_token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := codec.Decrypt(ctx, env, "payment_data"); !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for cross-scope decrypt, got %v", err)
	}
}

func TestCodec_UnknownVersion(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	env, err := codec.Encrypt(ctx, []byte("x"), "payment_data")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env.Version = "99"
	if _, err := codec.Decrypt(ctx, env, "payment_data"); !errors.Is(err, domain.ErrKeyVersionUnknown) {
		t.Fatalf("expected ErrKeyVersionUnknown, got %v", err)
	}
}

func TestCodec_SignRequestDeterministic(t *testing.T) {
	codec := newTestCodec(t)
	ctx := context.Background()

	a, err := codec.SignRequest(ctx, "1700000000000:nonce")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, err := codec.SignRequest(ctx, "1700000000000:nonce")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a != b {
		t.Fatalf("same payload produced different signatures")
	}
	c, err := codec.SignRequest(ctx, "1700000000000:other")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a == c {
		t.Fatalf("different payloads produced the same signature")
	}
}

func flipBase64(t *testing.T, s string) string {
	t.Helper()
	// Flipping the first character of the base64 text flips plaintext bits
	// without breaking decodability.
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}

func flipHex(s string) string {
	b := []byte(s)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}
