package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"walletd/internal/domain"
	"walletd/internal/infra/storage"

	"github.com/google/uuid"
)

const auditRingKey = "security/events"

type Clock func() time.Time

// SecurityAuditor keeps the append-only security trail, capped at the most
// recent domain.SecurityEventCap entries. It doubles as the fire-and-forget
// SecurityRecorder handed to the infrastructure components.
type SecurityAuditor struct {
	mu    sync.Mutex
	store storage.Store
	clock Clock
}

func NewSecurityAuditor(store storage.Store, clock Clock) *SecurityAuditor {
	if clock == nil {
		clock = time.Now
	}
	return &SecurityAuditor{store: store, clock: clock}
}

func (a *SecurityAuditor) Append(ctx context.Context, event domain.SecurityEvent) (domain.SecurityEvent, error) {
	if event.EventType == "" {
		return domain.SecurityEvent{}, errors.New("event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = a.clock().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ring, err := a.load(ctx)
	if err != nil {
		return domain.SecurityEvent{}, err
	}
	ring = append(ring, event)
	if len(ring) > domain.SecurityEventCap {
		ring = ring[len(ring)-domain.SecurityEventCap:]
	}
	raw, err := json.Marshal(ring)
	if err != nil {
		return domain.SecurityEvent{}, err
	}
	if err := a.store.Put(ctx, auditRingKey, raw); err != nil {
		return domain.SecurityEvent{}, err
	}
	return event, nil
}

// Record implements domain.SecurityRecorder. A trail that cannot be written
// must not take the calling operation down with it.
func (a *SecurityAuditor) Record(ctx context.Context, event domain.SecurityEvent) {
	_, _ = a.Append(ctx, event)
}

// Recent returns up to limit events, newest first.
func (a *SecurityAuditor) Recent(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ring, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]domain.SecurityEvent, 0, limit)
	for i := len(ring) - 1; i >= len(ring)-limit; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

func (a *SecurityAuditor) load(ctx context.Context) ([]domain.SecurityEvent, error) {
	raw, err := a.store.Get(ctx, auditRingKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ring []domain.SecurityEvent
	if err := json.Unmarshal(raw, &ring); err != nil {
		// A corrupt ring starts over rather than blocking new events.
		return nil, nil
	}
	return ring, nil
}

var _ domain.SecurityRecorder = (*SecurityAuditor)(nil)
