package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"walletd/internal/domain"
	cryptoinfra "walletd/internal/infra/crypto"
	"walletd/internal/infra/keys"
	"walletd/internal/infra/securecache"
	"walletd/internal/infra/storage"

	"github.com/golang-jwt/jwt/v5"
)

type recorderStub struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (r *recorderStub) Record(ctx context.Context, event domain.SecurityEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorderStub) has(eventType domain.SecurityEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type refresherFunc func(ctx context.Context, refreshToken string) (domain.AuthSession, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (domain.AuthSession, error) {
	return f(ctx, refreshToken)
}

type tokenFixture struct {
	now      time.Time
	store    *storage.Memory
	cache    *securecache.Cache
	recorder *recorderStub
	tokens   *TokenSource
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		store:    storage.NewMemory(),
		recorder: &recorderStub{},
	}
	clock := func() time.Time { return f.now }
	manager := keys.NewManager(keys.ManagerConfig{Store: f.store, Clock: clock})
	codec := cryptoinfra.NewCodec(manager, clock)
	f.cache = securecache.New(f.store, codec, f.recorder, clock)
	f.tokens = NewTokenSource(f.cache, f.recorder, clock)
	return f
}

func (f *tokenFixture) session(token string, ttl time.Duration) domain.AuthSession {
	return domain.AuthSession{
		Token:        token,
		RefreshToken: "refresh-1",
		IssuedAt:     f.now,
		ExpiresAt:    f.now.Add(ttl),
	}
}

func TestTokenSource_ReturnsUsableTokenWithoutRefresh(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	calls := int32(0)
	f.tokens.SetRefresher(refresherFunc(func(ctx context.Context, rt string) (domain.AuthSession, error) {
		atomic.AddInt32(&calls, 1)
		return domain.AuthSession{}, errors.New("should not be called")
	}))
	if err := f.tokens.SetSession(ctx, f.session("tok-a", time.Hour)); err != nil {
		t.Fatalf("set session: %v", err)
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "tok-a" {
		t.Fatalf("got token %q", token)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("refresher called for a usable token")
	}
}

func TestTokenSource_RefreshesInsideExpiryBuffer(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	f.tokens.SetRefresher(refresherFunc(func(ctx context.Context, rt string) (domain.AuthSession, error) {
		if rt != "refresh-1" {
			t.Fatalf("unexpected refresh token %q", rt)
		}
		return domain.AuthSession{
			Token:        "tok-b",
			RefreshToken: "refresh-2",
			ExpiresAt:    f.now.Add(time.Hour),
		}, nil
	}))
	// Four minutes of validity left: inside the five-minute buffer.
	if err := f.tokens.SetSession(ctx, f.session("tok-a", 4*time.Minute)); err != nil {
		t.Fatalf("set session: %v", err)
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "tok-b" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
}

func TestTokenSource_SingleFlightUnderConcurrency(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	calls := int32(0)
	release := make(chan struct{})
	f.tokens.SetRefresher(refresherFunc(func(ctx context.Context, rt string) (domain.AuthSession, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return domain.AuthSession{
			Token:     "tok-new",
			ExpiresAt: f.now.Add(time.Hour),
		}, nil
	}))
	if err := f.tokens.SetSession(ctx, f.session("tok-old", time.Minute)); err != nil {
		t.Fatalf("set session: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.tokens.Token(ctx)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one upstream refresh, got %d", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if tokens[i] != "tok-new" {
			t.Fatalf("worker %d got %q", i, tokens[i])
		}
	}
}

func TestTokenSource_RefreshFailureClearsSession(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	f.tokens.SetRefresher(refresherFunc(func(ctx context.Context, rt string) (domain.AuthSession, error) {
		return domain.AuthSession{}, fmt.Errorf("upstream says no")
	}))
	if err := f.tokens.SetSession(ctx, f.session("tok-a", time.Minute)); err != nil {
		t.Fatalf("set session: %v", err)
	}

	if _, err := f.tokens.Token(ctx); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if !f.recorder.has(domain.EventTokenRefreshFailure) {
		t.Fatalf("expected token_refresh_failure event")
	}

	// Both tokens are gone, including the persisted copy.
	var persisted domain.AuthSession
	if ok, _ := f.cache.Get(ctx, "auth/session", "auth_token", &persisted); ok {
		t.Fatalf("persisted session should be cleared")
	}
}

func TestTokenSource_RestartReloadsPersistedSession(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	if err := f.tokens.SetSession(ctx, f.session("tok-a", time.Hour)); err != nil {
		t.Fatalf("set session: %v", err)
	}

	// A new source over the same cache simulates a process restart.
	restarted := NewTokenSource(f.cache, f.recorder, func() time.Time { return f.now })
	token, err := restarted.Token(ctx)
	if err != nil {
		t.Fatalf("token after restart: %v", err)
	}
	if token != "tok-a" {
		t.Fatalf("expected persisted token, got %q", token)
	}
}

func TestTokenSource_ExpiryFallbackFromJWT(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	exp := f.now.Add(2 * time.Hour)
	claims := jwt.MapClaims{"exp": exp.Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign test jwt: %v", err)
	}

	if err := f.tokens.SetSession(ctx, domain.AuthSession{Token: signed, RefreshToken: "r"}); err != nil {
		t.Fatalf("set session: %v", err)
	}
	token, err := f.tokens.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != signed {
		t.Fatalf("token with exp claim should be usable without a refresh")
	}
}

func TestGuard_InactivityTimeout(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &recorderStub{}
	guard := NewGuard(15*time.Minute, rec, func() time.Time { return now })
	ctx := context.Background()

	if err := guard.Check(ctx); err != nil {
		t.Fatalf("fresh guard rejected: %v", err)
	}

	now = now.Add(14 * time.Minute)
	if err := guard.Check(ctx); err != nil {
		t.Fatalf("guard rejected inside the window: %v", err)
	}

	guard.Touch()
	now = now.Add(14 * time.Minute)
	if err := guard.Check(ctx); err != nil {
		t.Fatalf("touch did not extend the window: %v", err)
	}

	now = now.Add(time.Minute)
	if err := guard.Check(ctx); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after the timeout, got %v", err)
	}
	if !rec.has(domain.EventSessionTimeout) {
		t.Fatalf("expected session_timeout event")
	}
}
