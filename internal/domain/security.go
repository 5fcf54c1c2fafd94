package domain

import (
	"context"
	"time"
)

type SecurityEventType string

const (
	EventCertificateValidationFailure SecurityEventType = "certificate_validation_failure"
	EventHostnameVerificationFailure  SecurityEventType = "hostname_verification_failure"
	EventCertificateExpiryFailure     SecurityEventType = "certificate_expiry_failure"
	EventDataIntegrityViolation       SecurityEventType = "data_integrity_violation"
	EventKeyRotated                   SecurityEventType = "key_rotated"
	EventKeyRotationFailure           SecurityEventType = "key_rotation_failure"
	EventTokenRefreshFailure          SecurityEventType = "token_refresh_failure"
	EventSessionTimeout               SecurityEventType = "session_timeout"
	EventTLSPinningBypassed           SecurityEventType = "tls_pinning_bypassed"
	EventRateLimiterUnavailable       SecurityEventType = "rate_limiter_unavailable"
)

// SecurityEventCap bounds the persisted audit ring; only the most recent
// entries are retained.
const SecurityEventCap = 100

type SecurityEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	EventType SecurityEventType `json:"event_type"`
	Details   map[string]any    `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SecurityRecorder is the fire-and-forget sink components use to report
// security-relevant occurrences. Recording must never fail the caller.
type SecurityRecorder interface {
	Record(ctx context.Context, event SecurityEvent)
}
