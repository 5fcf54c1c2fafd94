package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"walletd/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	scopeTransactions   = "transactions"
	scopePaymentMethods = "payment_methods"
	scopeCryptoWallets  = "crypto_wallets"
)

// APIRequest is one logical call to the upstream payment API.
type APIRequest struct {
	Method       string
	Path         string
	Query        url.Values
	Body         any
	RequiresAuth bool
}

// Gateway submits API requests and returns the response body. Transport
// failures, rate limits and upstream error statuses come back as errors
// from the domain taxonomy.
type Gateway interface {
	Call(ctx context.Context, req APIRequest) ([]byte, error)
}

// Sealer encrypts payloads under the current key generation.
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte, scope string) (domain.EncryptedEnvelope, error)
}

// SecureStore is the encrypted, tamper-evident local store. Get reports
// absent (false, nil) for missing, expired or tampered records.
type SecureStore interface {
	Put(ctx context.Context, key string, value any, scope string) error
	Get(ctx context.Context, key string, scope string, out any) (bool, error)
}

// ActivityGuard tracks user activity and rejects work after the
// inactivity timeout.
type ActivityGuard interface {
	Touch()
	Check(ctx context.Context) error
}

// PaymentService drives the end-to-end flow for each operation: inactivity
// check, validation and enrichment, envelope encryption, submission, and
// HMAC-protected local persistence of the result.
type PaymentService struct {
	validator *TransactionValidator
	sealer    Sealer
	gateway   Gateway
	store     SecureStore
	guard     ActivityGuard
	clock     Clock
}

func NewPaymentService(validator *TransactionValidator, sealer Sealer, gateway Gateway, store SecureStore, guard ActivityGuard, clock Clock) *PaymentService {
	if clock == nil {
		clock = time.Now
	}
	return &PaymentService{
		validator: validator,
		sealer:    sealer,
		gateway:   gateway,
		store:     store,
		guard:     guard,
		clock:     clock,
	}
}

func (s *PaymentService) Deposit(ctx context.Context, req domain.PaymentRequest) (domain.PaymentReceipt, error) {
	if err := s.checkSession(ctx); err != nil {
		return domain.PaymentReceipt{}, err
	}
	enriched, err := s.validator.Deposit(ctx, req)
	if err != nil {
		return domain.PaymentReceipt{}, asPaymentError(err)
	}
	return s.submit(ctx, "/payments/deposit", enriched)
}

func (s *PaymentService) Withdraw(ctx context.Context, req domain.PaymentRequest) (domain.PaymentReceipt, error) {
	if err := s.checkSession(ctx); err != nil {
		return domain.PaymentReceipt{}, err
	}
	enriched, err := s.validator.Withdrawal(ctx, req)
	if err != nil {
		return domain.PaymentReceipt{}, asPaymentError(err)
	}
	return s.submit(ctx, "/payments/withdraw", enriched)
}

func (s *PaymentService) Exchange(ctx context.Context, req domain.PaymentRequest) (domain.PaymentReceipt, error) {
	if err := s.checkSession(ctx); err != nil {
		return domain.PaymentReceipt{}, err
	}
	if err := s.validator.CheckExchange(req); err != nil {
		return domain.PaymentReceipt{}, asPaymentError(err)
	}
	rate, err := s.Rate(ctx, req.Currency, req.ToCurrency)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	enriched, err := s.validator.Exchange(ctx, req, rate.Rate)
	if err != nil {
		return domain.PaymentReceipt{}, asPaymentError(err)
	}
	return s.submit(ctx, "/payments/exchange", enriched)
}

func (s *PaymentService) submit(ctx context.Context, path string, enriched domain.EnrichedPayment) (domain.PaymentReceipt, error) {
	plaintext, err := json.Marshal(enriched)
	if err != nil {
		return domain.PaymentReceipt{}, domain.WrapPaymentError(domain.PaymentErrUnknown, "encode payment", err)
	}
	envelope, err := s.sealer.Encrypt(ctx, plaintext, string(enriched.Operation))
	if err != nil {
		return domain.PaymentReceipt{}, domain.WrapPaymentError(domain.PaymentErrUnknown, "encrypt payment", err)
	}
	body, err := s.gateway.Call(ctx, APIRequest{
		Method:       http.MethodPost,
		Path:         path,
		Body:         envelope,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.PaymentReceipt{}, mapTransportError(err)
	}

	var out struct {
		DepositID    string `json:"depositId"`
		WithdrawalID string `json:"withdrawalId"`
		ExchangeID   string `json:"exchangeId"`
		ID           string `json:"id"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.PaymentReceipt{}, domain.WrapPaymentError(domain.PaymentErrUnknown, "decode payment response", err)
	}
	txID := firstNonEmpty(out.DepositID, out.WithdrawalID, out.ExchangeID, out.ID)
	if txID == "" {
		return domain.PaymentReceipt{}, domain.NewPaymentError(domain.PaymentErrUnknown, "upstream returned no transaction id")
	}
	status := domain.PaymentStatus(out.Status)
	if status == "" {
		status = domain.PaymentStatusPending
	}
	enriched.Status = status
	receipt := domain.PaymentReceipt{
		TransactionID: txID,
		Operation:     enriched.Operation,
		Status:        status,
		Payment:       enriched,
	}

	// The upstream accepted the payment; a local persistence failure must
	// not report the whole operation as failed.
	_ = s.persistReceipt(ctx, receipt)
	s.guard.Touch()
	return receipt, nil
}

func (s *PaymentService) persistReceipt(ctx context.Context, receipt domain.PaymentReceipt) error {
	if err := s.store.Put(ctx, transactionKey(receipt.TransactionID), receipt, scopeTransactions); err != nil {
		return err
	}
	userID := receipt.Payment.UserID
	var ids []string
	_, _ = s.store.Get(ctx, transactionIndexKey(userID), scopeTransactions, &ids)
	ids = append(ids, receipt.TransactionID)
	return s.store.Put(ctx, transactionIndexKey(userID), ids, scopeTransactions)
}

// Transactions lists locally persisted receipts for a user in submission
// order. Tampered or expired entries are skipped, not surfaced.
func (s *PaymentService) Transactions(ctx context.Context, userID string) ([]domain.PaymentReceipt, error) {
	var ids []string
	if _, err := s.store.Get(ctx, transactionIndexKey(userID), scopeTransactions, &ids); err != nil {
		return nil, err
	}
	out := make([]domain.PaymentReceipt, 0, len(ids))
	for _, id := range ids {
		var receipt domain.PaymentReceipt
		ok, err := s.store.Get(ctx, transactionKey(id), scopeTransactions, &receipt)
		if err != nil || !ok {
			continue
		}
		out = append(out, receipt)
	}
	return out, nil
}

// Methods returns the user's payment methods, falling back to the cached
// copy when offline. The fallback is safe here: methods are display data,
// not integrity-critical material.
func (s *PaymentService) Methods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	cacheKey := "payments/methods/" + userID
	body, err := s.gateway.Call(ctx, APIRequest{
		Method:       http.MethodGet,
		Path:         "/payments/methods",
		Query:        url.Values{"userId": {userID}},
		RequiresAuth: true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConnectivity) {
			var cached []domain.PaymentMethod
			if ok, cacheErr := s.store.Get(ctx, cacheKey, scopePaymentMethods, &cached); cacheErr == nil && ok {
				return cached, nil
			}
		}
		return nil, mapTransportError(err)
	}
	var methods []domain.PaymentMethod
	if err := json.Unmarshal(body, &methods); err != nil {
		return nil, domain.WrapPaymentError(domain.PaymentErrUnknown, "decode payment methods", err)
	}
	_ = s.store.Put(ctx, cacheKey, methods, scopePaymentMethods)
	return methods, nil
}

// CryptoWallets returns the deposit addresses, with the same cached
// fallback rationale as Methods.
func (s *PaymentService) CryptoWallets(ctx context.Context) ([]domain.CryptoWallet, error) {
	const cacheKey = "payments/crypto_wallets"
	body, err := s.gateway.Call(ctx, APIRequest{
		Method:       http.MethodGet,
		Path:         "/payments/crypto/wallets",
		RequiresAuth: true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConnectivity) {
			var cached []domain.CryptoWallet
			if ok, cacheErr := s.store.Get(ctx, cacheKey, scopeCryptoWallets, &cached); cacheErr == nil && ok {
				return cached, nil
			}
		}
		return nil, mapTransportError(err)
	}
	var wallets []domain.CryptoWallet
	if err := json.Unmarshal(body, &wallets); err != nil {
		return nil, domain.WrapPaymentError(domain.PaymentErrUnknown, "decode crypto wallets", err)
	}
	_ = s.store.Put(ctx, cacheKey, wallets, scopeCryptoWallets)
	return wallets, nil
}

func (s *PaymentService) Rate(ctx context.Context, from, to string) (domain.ExchangeRate, error) {
	body, err := s.gateway.Call(ctx, APIRequest{
		Method: http.MethodGet,
		Path:   "/payments/exchange-rate",
		Query: url.Values{
			"fromCurrency": {from},
			"toCurrency":   {to},
		},
		RequiresAuth: true,
	})
	if err != nil {
		return domain.ExchangeRate{}, mapTransportError(err)
	}
	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.ExchangeRate{}, domain.WrapPaymentError(domain.PaymentErrUnknown, "decode exchange rate", err)
	}
	return domain.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         out.Rate,
		AsOf:         s.clock().UTC(),
	}, nil
}

func (s *PaymentService) checkSession(ctx context.Context) error {
	if err := s.guard.Check(ctx); err != nil {
		return domain.WrapPaymentError(domain.PaymentErrSessionExpired, "session timed out, re-authenticate", err)
	}
	return nil
}

// mapTransportError folds the transport taxonomy into stable payment codes.
func mapTransportError(err error) *domain.PaymentError {
	switch {
	case errors.Is(err, domain.ErrConnectivity):
		return domain.WrapPaymentError(domain.PaymentErrConnectivity, "no network connection", err)
	case errors.Is(err, domain.ErrRateLimited):
		return domain.WrapPaymentError(domain.PaymentErrRateLimited, "too many requests, slow down", err)
	case errors.Is(err, domain.ErrSessionExpired):
		return domain.WrapPaymentError(domain.PaymentErrSessionExpired, "session expired, re-authenticate", err)
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return domain.WrapPaymentError(domain.PaymentErrSessionExpired, "session expired, re-authenticate", err)
		case apiErr.Code == string(domain.PaymentErrInsufficientBalance):
			return domain.WrapPaymentError(domain.PaymentErrInsufficientBalance, "insufficient balance", err)
		}
		return domain.WrapPaymentError(domain.PaymentErrUnknown, fmt.Sprintf("upstream error %d", apiErr.StatusCode), err)
	}
	return domain.WrapPaymentError(domain.PaymentErrUnknown, "unexpected failure", err)
}

func asPaymentError(err error) error {
	var paymentErr *domain.PaymentError
	if errors.As(err, &paymentErr) {
		return paymentErr
	}
	return domain.WrapPaymentError(domain.PaymentErrUnknown, err.Error(), err)
}

func transactionKey(id string) string {
	return "tx/" + id
}

func transactionIndexKey(userID string) string {
	return "tx/index/" + userID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
