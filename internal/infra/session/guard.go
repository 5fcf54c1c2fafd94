package session

import (
	"context"
	"sync"
	"time"

	"walletd/internal/domain"
	"walletd/internal/usecase"
)

const DefaultInactivityTimeout = 15 * time.Minute

var _ usecase.ActivityGuard = (*Guard)(nil)

// Guard enforces the inactivity timeout on payment operations. Activity is
// whatever the caller decides to Touch on; the first check after the window
// elapses fails with ErrSessionExpired and records a session_timeout event.
type Guard struct {
	mu           sync.Mutex
	lastActivity time.Time
	timeout      time.Duration
	clock        func() time.Time
	recorder     domain.SecurityRecorder
}

func NewGuard(timeout time.Duration, recorder domain.SecurityRecorder, clock func() time.Time) *Guard {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	g := &Guard{timeout: timeout, clock: clock, recorder: recorder}
	g.lastActivity = clock()
	return g
}

func (g *Guard) Touch() {
	g.mu.Lock()
	g.lastActivity = g.clock()
	g.mu.Unlock()
}

func (g *Guard) Check(ctx context.Context) error {
	g.mu.Lock()
	idle := g.clock().Sub(g.lastActivity)
	g.mu.Unlock()
	if idle < g.timeout {
		return nil
	}
	if g.recorder != nil {
		g.recorder.Record(ctx, domain.SecurityEvent{
			EventType: domain.EventSessionTimeout,
			Details:   map[string]any{"idle": idle.String()},
		})
	}
	return domain.ErrSessionExpired
}
