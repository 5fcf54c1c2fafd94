package securecache

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"walletd/internal/domain"
	cryptoinfra "walletd/internal/infra/crypto"
	"walletd/internal/infra/keys"
	"walletd/internal/infra/storage"
)

type recorderStub struct {
	events []domain.SecurityEvent
}

func (r *recorderStub) Record(ctx context.Context, event domain.SecurityEvent) {
	r.events = append(r.events, event)
}

func (r *recorderStub) violations() int {
	n := 0
	for _, e := range r.events {
		if e.EventType == domain.EventDataIntegrityViolation {
			n++
		}
	}
	return n
}

type fixture struct {
	store    *storage.Memory
	manager  *keys.Manager
	codec    *cryptoinfra.Codec
	recorder *recorderStub
	cache    *Cache
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemory(),
		recorder: &recorderStub{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.manager = keys.NewManager(keys.ManagerConfig{Store: f.store, Clock: clock})
	f.codec = cryptoinfra.NewCodec(f.manager, clock)
	f.cache = New(f.store, f.codec, f.recorder, clock)
	return f
}

type payload struct {
	Balance string `json:"balance"`
}

func TestCache_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.cache.Put(ctx, "user/balance", payload{Balance: "42.00"}, "balances"); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out payload
	ok, err := f.cache.Get(ctx, "user/balance", "balances", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || out.Balance != "42.00" {
		t.Fatalf("round-trip failed: ok=%v out=%+v", ok, out)
	}

	// Raw storage must not contain the plaintext.
	raw, err := f.store.Get(ctx, "user/balance")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if bytes.Contains(raw, []byte("42.00")) {
		t.Fatalf("plaintext leaked into storage")
	}
}

func TestCache_MissingReadsAbsent(t *testing.T) {
	f := newFixture(t)
	var out payload
	ok, err := f.cache.Get(context.Background(), "nope", "balances", &out)
	if err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
}

func TestCache_TamperReadsAbsentAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.cache.Put(ctx, "user/balance", payload{Balance: "42.00"}, "balances"); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := f.store.Get(ctx, "user/balance")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	rec.Timestamp++ // covered by the outer tag
	tampered, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	if err := f.store.Put(ctx, "user/balance", tampered); err != nil {
		t.Fatalf("raw put: %v", err)
	}

	var out payload
	ok, err := f.cache.Get(ctx, "user/balance", "balances", &out)
	if err != nil || ok {
		t.Fatalf("tampered record must read as absent, got ok=%v err=%v", ok, err)
	}
	if f.recorder.violations() != 1 {
		t.Fatalf("expected one data_integrity_violation, got %d", f.recorder.violations())
	}
}

func TestCache_ScopeMismatchReadsAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.cache.Put(ctx, "k", payload{Balance: "1"}, "balances"); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out payload
	ok, err := f.cache.Get(ctx, "k", "transactions", &out)
	if err != nil || ok {
		t.Fatalf("cross-scope read must be absent, got ok=%v err=%v", ok, err)
	}
	if f.recorder.violations() == 0 {
		t.Fatalf("cross-scope read should register as a violation")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.cache.PutTTL(ctx, "k", payload{Balance: "1"}, "balances", time.Minute); err != nil {
		t.Fatalf("put ttl: %v", err)
	}
	var out payload
	ok, err := f.cache.Get(ctx, "k", "balances", &out)
	if err != nil || !ok {
		t.Fatalf("fresh record should be readable, got ok=%v err=%v", ok, err)
	}

	f.now = f.now.Add(time.Minute)
	ok, err = f.cache.Get(ctx, "k", "balances", &out)
	if err != nil || ok {
		t.Fatalf("expired record must read as absent, got ok=%v err=%v", ok, err)
	}
	if _, err := f.store.Get(ctx, "k"); err != domain.ErrNotFound {
		t.Fatalf("expired record should be deleted from storage, got %v", err)
	}
}

func TestCache_WriteBehindKeyMigration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.cache.Put(ctx, "k", payload{Balance: "7"}, "balances"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := f.manager.Rotate(ctx); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	var out payload
	ok, err := f.cache.Get(ctx, "k", "balances", &out)
	if err != nil || !ok || out.Balance != "7" {
		t.Fatalf("read under archived generation failed: ok=%v err=%v out=%+v", ok, err, out)
	}

	// The read rewrote the record under the current generation.
	raw, err := f.store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Envelope.Version != "2" {
		t.Fatalf("expected migrated envelope version 2, got %q", rec.Envelope.Version)
	}
	ok, err = f.cache.Get(ctx, "k", "balances", &out)
	if err != nil || !ok || out.Balance != "7" {
		t.Fatalf("read after migration failed: ok=%v err=%v", ok, err)
	}
}
