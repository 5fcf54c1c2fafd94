package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Operation string

const (
	OperationDeposit    Operation = "deposit"
	OperationWithdrawal Operation = "withdrawal"
	OperationExchange   Operation = "exchange"
)

type Chain string

const (
	ChainBTC   Chain = "BTC"
	ChainETH   Chain = "ETH"
	ChainTRC20 Chain = "TRC20"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRequest is what a caller submits for any of the three operations.
// Crypto methods carry a counterparty address on a specific chain; bank
// methods carry account details instead. Exchange additionally names the
// target currency.
type PaymentRequest struct {
	UserID              string          `json:"user_id"`
	MethodID            string          `json:"method_id"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	ToCurrency          string          `json:"to_currency,omitempty"`
	CryptoCurrency      Chain           `json:"crypto_currency,omitempty"`
	CounterpartyAddress string          `json:"counterparty_address,omitempty"`
	BankAccount         string          `json:"bank_account,omitempty"`
}

// EnrichedPayment is a validated request plus the computed fee, net amount
// and confirmation decision. It is immutable after creation except for the
// status transition applied when the upstream answers.
type EnrichedPayment struct {
	PaymentRequest
	Operation                      Operation       `json:"operation"`
	Fee                            decimal.Decimal `json:"fee"`
	NetAmount                      decimal.Decimal `json:"net_amount"`
	ExchangeRate                   decimal.Decimal `json:"exchange_rate,omitempty"`
	RequiresAdditionalConfirmation bool            `json:"requires_additional_confirmation"`
	Status                         PaymentStatus   `json:"status"`
	CreatedAt                      time.Time       `json:"created_at"`
}

type PaymentReceipt struct {
	TransactionID string        `json:"transaction_id"`
	Operation     Operation     `json:"operation"`
	Status        PaymentStatus `json:"status"`
	Payment       EnrichedPayment
}

type PaymentMethod struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Label      string   `json:"label"`
	Currencies []string `json:"currencies,omitempty"`
}

type CryptoWallet struct {
	Chain    Chain  `json:"chain"`
	Currency string `json:"currency"`
	Address  string `json:"address"`
}

type ExchangeRate struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	AsOf         time.Time       `json:"as_of"`
}
