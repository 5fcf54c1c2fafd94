// Package certpin validates TLS peer certificates against pinned SHA-256
// fingerprints. Host-scoped pins are consulted before the global set; a
// certificate matching neither falls back to hostname and validity checks.
package certpin

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"walletd/internal/domain"
)

// TrustedFingerprintSet holds hex-encoded SHA-256 fingerprints of trusted
// leaf certificates. PerHost sets are stricter and checked first.
type TrustedFingerprintSet struct {
	Global  map[string]struct{}
	PerHost map[string]map[string]struct{}
}

func NewTrustedFingerprintSet(global []string, perHost map[string][]string) TrustedFingerprintSet {
	set := TrustedFingerprintSet{
		Global:  make(map[string]struct{}, len(global)),
		PerHost: make(map[string]map[string]struct{}, len(perHost)),
	}
	for _, fp := range global {
		set.Global[strings.ToLower(fp)] = struct{}{}
	}
	for host, fps := range perHost {
		hostSet := make(map[string]struct{}, len(fps))
		for _, fp := range fps {
			hostSet[strings.ToLower(fp)] = struct{}{}
		}
		set.PerHost[host] = hostSet
	}
	return set
}

type Validator struct {
	pins     TrustedFingerprintSet
	clock    func() time.Time
	recorder domain.SecurityRecorder

	// allowUnpinned bypasses the hostname/validity fallback (step 3)
	// failures only. It is refused outside development wiring and every
	// use is recorded.
	allowUnpinned bool
}

func NewValidator(pins TrustedFingerprintSet, recorder domain.SecurityRecorder, clock func() time.Time) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{pins: pins, clock: clock, recorder: recorder}
}

// AllowUnpinnedForDevelopment switches on the development-only bypass for
// hostname/validity failures. Pin mismatches still never bypass.
func (v *Validator) AllowUnpinnedForDevelopment() {
	v.allowUnpinned = true
}

// Fingerprint is the hex SHA-256 of the certificate's DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Validate runs the pinning algorithm against a peer leaf certificate.
// Order matters: host-scoped pins, then global pins, then hostname plus
// validity window. Every rejection is recorded as a security event.
func (v *Validator) Validate(ctx context.Context, cert *x509.Certificate, host string, port int) error {
	fp := Fingerprint(cert)

	if hostPins, ok := v.pins.PerHost[host]; ok {
		if _, ok := hostPins[fp]; ok {
			return nil
		}
	}
	if _, ok := v.pins.Global[fp]; ok {
		return nil
	}

	if !matchHostname(cert.Subject.CommonName, host) {
		v.record(ctx, domain.EventHostnameVerificationFailure, host, port, fp)
		if v.allowUnpinned {
			v.record(ctx, domain.EventTLSPinningBypassed, host, port, fp)
			return nil
		}
		return fmt.Errorf("hostname %q does not match certificate subject %q: %w",
			host, cert.Subject.CommonName, domain.ErrCertificateRejected)
	}
	now := v.clock()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		v.record(ctx, domain.EventCertificateExpiryFailure, host, port, fp)
		if v.allowUnpinned {
			v.record(ctx, domain.EventTLSPinningBypassed, host, port, fp)
			return nil
		}
		return fmt.Errorf("certificate outside validity window: %w", domain.ErrCertificateRejected)
	}
	return nil
}

// TLSConfig builds a client TLS config whose peer verification delegates to
// the pinning algorithm for the given host.
func (v *Validator) TLSConfig(host string, port int) *tls.Config {
	return &tls.Config{
		// Verification is replaced wholesale by the pinning algorithm;
		// the CA hierarchy is not consulted.
		InsecureSkipVerify: true,
		ServerName:         host,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				v.record(context.Background(), domain.EventCertificateValidationFailure, host, port, "")
				return fmt.Errorf("no peer certificate: %w", domain.ErrCertificateRejected)
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				v.record(context.Background(), domain.EventCertificateValidationFailure, host, port, "")
				return fmt.Errorf("parse peer certificate: %w", err)
			}
			return v.Validate(context.Background(), leaf, host, port)
		},
	}
}

func matchHostname(subject, host string) bool {
	if subject == "" || host == "" {
		return false
	}
	if strings.EqualFold(subject, host) {
		return true
	}
	if rest, ok := strings.CutPrefix(subject, "*."); ok {
		_, parent, found := strings.Cut(host, ".")
		return found && strings.EqualFold(rest, parent)
	}
	return false
}

func (v *Validator) record(ctx context.Context, eventType domain.SecurityEventType, host string, port int, fingerprint string) {
	if v.recorder == nil {
		return
	}
	v.recorder.Record(ctx, domain.SecurityEvent{
		EventType: eventType,
		Details: map[string]any{
			"endpoint":    fmt.Sprintf("%s:%d", host, port),
			"fingerprint": fingerprint,
		},
	})
}
