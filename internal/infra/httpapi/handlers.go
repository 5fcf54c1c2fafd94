package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"walletd/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type paymentRequest struct {
	UserID              string `json:"user_id"`
	MethodID            string `json:"method_id"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	ToCurrency          string `json:"to_currency,omitempty"`
	CryptoCurrency      string `json:"crypto_currency,omitempty"`
	CounterpartyAddress string `json:"counterparty_address,omitempty"`
	BankAccount         string `json:"bank_account,omitempty"`
}

func (r paymentRequest) toDomain() (domain.PaymentRequest, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return domain.PaymentRequest{}, domain.NewPaymentError(domain.PaymentErrInvalidAmount, "amount is not a number")
	}
	return domain.PaymentRequest{
		UserID:              r.UserID,
		MethodID:            r.MethodID,
		Amount:              amount,
		Currency:            r.Currency,
		ToCurrency:          r.ToCurrency,
		CryptoCurrency:      domain.Chain(r.CryptoCurrency),
		CounterpartyAddress: r.CounterpartyAddress,
		BankAccount:         r.BankAccount,
	}, nil
}

type receiptResponse struct {
	TransactionID        string `json:"transaction_id"`
	Operation            string `json:"operation"`
	Status               string `json:"status"`
	Fee                  string `json:"fee"`
	NetAmount            string `json:"net_amount"`
	ExchangeRate         string `json:"exchange_rate,omitempty"`
	RequiresConfirmation bool   `json:"requires_additional_confirmation"`
}

func buildReceiptResponse(receipt domain.PaymentReceipt) receiptResponse {
	out := receiptResponse{
		TransactionID:        receipt.TransactionID,
		Operation:            string(receipt.Operation),
		Status:               string(receipt.Status),
		Fee:                  receipt.Payment.Fee.String(),
		NetAmount:            receipt.Payment.NetAmount.String(),
		RequiresConfirmation: receipt.Payment.RequiresAdditionalConfirmation,
	}
	if !receipt.Payment.ExchangeRate.IsZero() {
		out.ExchangeRate = receipt.Payment.ExchangeRate.String()
	}
	return out
}

func (s *Server) handleDeposit(c *gin.Context) {
	s.handlePayment(c, s.payments.Deposit)
}

func (s *Server) handleWithdraw(c *gin.Context) {
	s.handlePayment(c, s.payments.Withdraw)
}

func (s *Server) handleExchange(c *gin.Context) {
	s.handlePayment(c, s.payments.Exchange)
}

func (s *Server) handlePayment(c *gin.Context, op func(ctx context.Context, req domain.PaymentRequest) (domain.PaymentReceipt, error)) {
	var in paymentRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	req, err := in.toDomain()
	if err != nil {
		writeError(c, err)
		return
	}
	receipt, err := op(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildReceiptResponse(receipt))
}

func (s *Server) handleMethods(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeErrorCode(c, http.StatusBadRequest, "missing_user_id", "user_id query parameter required")
		return
	}
	methods, err := s.payments.Methods(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, methods)
}

func (s *Server) handleCryptoWallets(c *gin.Context) {
	wallets, err := s.payments.CryptoWallets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallets)
}

func (s *Server) handleRate(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		writeErrorCode(c, http.StatusBadRequest, "missing_currency", "from and to query parameters required")
		return
	}
	rate, err := s.payments.Rate(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rate)
}

func (s *Server) handleTransactions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		writeErrorCode(c, http.StatusBadRequest, "missing_user_id", "user_id query parameter required")
		return
	}
	receipts, err := s.payments.Transactions(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]receiptResponse, 0, len(receipts))
	for _, receipt := range receipts {
		out = append(out, buildReceiptResponse(receipt))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSecurityEvents(c *gin.Context) {
	limit := domain.SecurityEventCap
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.auditor.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleRotateKeys(c *gin.Context) {
	version, err := s.keys.Rotate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

// writeError maps the payment error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var paymentErr *domain.PaymentError
	if errors.As(err, &paymentErr) {
		c.JSON(statusFor(paymentErr.Code), errorResponse{
			Code:    string(paymentErr.Code),
			Message: paymentErr.Message,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		writeErrorCode(c, http.StatusUnauthorized, string(domain.PaymentErrSessionExpired), err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeErrorCode(c, http.StatusTooManyRequests, string(domain.PaymentErrRateLimited), err.Error())
	case errors.Is(err, domain.ErrConnectivity):
		writeErrorCode(c, http.StatusServiceUnavailable, string(domain.PaymentErrConnectivity), err.Error())
	case errors.Is(err, domain.ErrKeyRotationFailed):
		writeErrorCode(c, http.StatusInternalServerError, "key_rotation_failed", err.Error())
	default:
		writeErrorCode(c, http.StatusInternalServerError, string(domain.PaymentErrUnknown), err.Error())
	}
}

func statusFor(code domain.PaymentErrorCode) int {
	switch code {
	case domain.PaymentErrInvalidAmount,
		domain.PaymentErrUnsupportedCurrency,
		domain.PaymentErrInvalidWalletAddress,
		domain.PaymentErrMissingDestination:
		return http.StatusBadRequest
	case domain.PaymentErrSessionExpired:
		return http.StatusUnauthorized
	case domain.PaymentErrInsufficientBalance:
		return http.StatusUnprocessableEntity
	case domain.PaymentErrRateLimited:
		return http.StatusTooManyRequests
	case domain.PaymentErrConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
