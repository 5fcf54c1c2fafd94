// Package session holds the bearer-token lifecycle (validity buffer,
// persistence across restarts, single-flight refresh) and the inactivity
// guard for payment operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"walletd/internal/domain"
	"walletd/internal/infra/securecache"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	sessionKey   = "auth/session"
	sessionScope = "auth_token"
)

// Refresher exchanges a refresh token for a new session; the transport
// implements it against POST /auth/refresh.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.AuthSession, error)
}

type TokenSource struct {
	cache    *securecache.Cache
	clock    func() time.Time
	recorder domain.SecurityRecorder

	mu        sync.Mutex
	session   *domain.AuthSession
	refresher Refresher

	group singleflight.Group
}

func NewTokenSource(cache *securecache.Cache, recorder domain.SecurityRecorder, clock func() time.Time) *TokenSource {
	if clock == nil {
		clock = time.Now
	}
	return &TokenSource{cache: cache, recorder: recorder, clock: clock}
}

// SetRefresher wires the refresh transport after construction; the transport
// and the token source reference each other.
func (t *TokenSource) SetRefresher(r Refresher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refresher = r
}

// SetSession installs a freshly authenticated session and persists it.
func (t *TokenSource) SetSession(ctx context.Context, s domain.AuthSession) error {
	s = withExpiryFallback(s, t.clock())
	if err := t.cache.Put(ctx, sessionKey, s, sessionScope); err != nil {
		return err
	}
	t.mu.Lock()
	t.session = &s
	t.mu.Unlock()
	return nil
}

// Token ensures freshness and returns the bearer token.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if err := t.EnsureFresh(ctx); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return "", domain.ErrSessionExpired
	}
	return t.session.Token, nil
}

// EnsureFresh is a no-op while the stored token has refresh headroom left.
// Otherwise exactly one refresh flies at a time; concurrent callers await
// its outcome instead of racing their own.
func (t *TokenSource) EnsureFresh(ctx context.Context) error {
	if t.usable() {
		return nil
	}
	_, err, _ := t.group.Do("token-refresh", func() (any, error) {
		return nil, t.refresh(ctx)
	})
	return err
}

// Clear drops both tokens; the caller must re-authenticate. Used on 401.
func (t *TokenSource) Clear(ctx context.Context) {
	t.mu.Lock()
	t.session = nil
	t.mu.Unlock()
	_ = t.cache.Delete(ctx, sessionKey)
}

func (t *TokenSource) usable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil && t.session.Usable(t.clock())
}

func (t *TokenSource) refresh(ctx context.Context) error {
	// A caller that waited on an in-flight refresh finds a fresh token here.
	if t.usable() {
		return nil
	}

	now := t.clock()
	refreshToken := ""
	t.mu.Lock()
	if t.session != nil {
		refreshToken = t.session.RefreshToken
	}
	refresher := t.refresher
	t.mu.Unlock()

	// Covers restarts: a still-valid session may be sitting in storage.
	var persisted domain.AuthSession
	if ok, err := t.cache.Get(ctx, sessionKey, sessionScope, &persisted); err == nil && ok {
		if persisted.Usable(now) {
			t.mu.Lock()
			t.session = &persisted
			t.mu.Unlock()
			return nil
		}
		if refreshToken == "" {
			refreshToken = persisted.RefreshToken
		}
	}

	if refresher == nil {
		return errors.New("token refresher not configured")
	}
	if refreshToken == "" {
		t.Clear(ctx)
		return domain.ErrSessionExpired
	}

	next, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		t.record(ctx, map[string]any{"error": err.Error()})
		t.Clear(ctx)
		return fmt.Errorf("token refresh: %w", domain.ErrSessionExpired)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	return t.SetSession(ctx, next)
}

func (t *TokenSource) record(ctx context.Context, details map[string]any) {
	if t.recorder == nil {
		return
	}
	t.recorder.Record(ctx, domain.SecurityEvent{
		EventType: domain.EventTokenRefreshFailure,
		Details:   details,
	})
}

// withExpiryFallback fills a missing expiry from the JWT exp claim when the
// auth server returned the token without one.
func withExpiryFallback(s domain.AuthSession, now time.Time) domain.AuthSession {
	if s.IssuedAt.IsZero() {
		s.IssuedAt = now.UTC()
	}
	if !s.ExpiresAt.IsZero() {
		return s
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}
	return s
}
