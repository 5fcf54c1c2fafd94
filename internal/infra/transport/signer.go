package transport

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	cryptoinfra "walletd/internal/infra/crypto"

	"github.com/google/uuid"
)

const requestNonceSize = 16

// HardeningHeaders is the static header set attached to every request and,
// via the API middleware, to every response served.
var HardeningHeaders = map[string]string{
	"Content-Security-Policy":   "default-src 'none'",
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
}

// Signer produces the per-request security headers: CSRF token, timestamp,
// replay nonce and an HMAC signature over "timestamp:nonce".
type Signer struct {
	codec *cryptoinfra.Codec
	clock func() time.Time
	rand  io.Reader
	csrf  string
}

func NewSigner(codec *cryptoinfra.Codec, clock func() time.Time) *Signer {
	if clock == nil {
		clock = time.Now
	}
	return &Signer{
		codec: codec,
		clock: clock,
		rand:  rand.Reader,
		csrf:  uuid.NewString(),
	}
}

func (s *Signer) Apply(ctx context.Context, req *http.Request) error {
	timestamp := strconv.FormatInt(s.clock().UTC().UnixMilli(), 10)
	nonceBytes := make([]byte, requestNonceSize)
	if _, err := io.ReadFull(s.rand, nonceBytes); err != nil {
		return fmt.Errorf("generate request nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBytes)
	signature, err := s.codec.SignRequest(ctx, timestamp+":"+nonce)
	if err != nil {
		return err
	}
	req.Header.Set("X-CSRF-Token", s.csrf)
	req.Header.Set("X-Request-Timestamp", timestamp)
	req.Header.Set("X-Request-Nonce", nonce)
	req.Header.Set("X-Request-Signature", signature)
	for name, value := range HardeningHeaders {
		req.Header.Set(name, value)
	}
	return nil
}
