package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectivity        = errors.New("no connectivity")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrSessionExpired      = errors.New("session expired")
	ErrIntegrity           = errors.New("integrity check failed")
	ErrCertificateRejected = errors.New("certificate rejected")
	ErrKeyVersionUnknown   = errors.New("key version unknown")
	ErrKeyRotationFailed   = errors.New("key rotation failed")
	ErrNotFound            = errors.New("not found")
)

// APIError is a non-2xx answer from the upstream payment API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// PaymentErrorCode is the stable machine code surfaced to callers of the
// payment operations.
type PaymentErrorCode string

const (
	PaymentErrInvalidAmount        PaymentErrorCode = "invalid_amount"
	PaymentErrUnsupportedCurrency  PaymentErrorCode = "unsupported_currency"
	PaymentErrInvalidWalletAddress PaymentErrorCode = "invalid_wallet_address"
	PaymentErrMissingDestination   PaymentErrorCode = "missing_destination_address"
	PaymentErrConnectivity         PaymentErrorCode = "connectivity_error"
	PaymentErrSessionExpired       PaymentErrorCode = "session_expired"
	PaymentErrInsufficientBalance  PaymentErrorCode = "insufficient_balance"
	PaymentErrRateLimited          PaymentErrorCode = "rate_limited"
	PaymentErrUnknown              PaymentErrorCode = "unknown_error"
)

type PaymentError struct {
	Code    PaymentErrorCode
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func NewPaymentError(code PaymentErrorCode, message string) *PaymentError {
	return &PaymentError{Code: code, Message: message}
}

func WrapPaymentError(code PaymentErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}
