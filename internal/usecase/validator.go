package usecase

import (
	"context"
	"time"

	"walletd/internal/domain"

	"github.com/shopspring/decimal"
)

// ConfirmationQuery is the input handed to an external confirmation policy.
type ConfirmationQuery struct {
	Operation domain.Operation
	UserID    string
	MethodID  string
	Amount    decimal.Decimal
	Currency  string
}

// ConfirmationPolicy decides whether a payment needs additional user
// confirmation. The rego engine implements it; absent a policy the validator
// falls back to the static threshold table.
type ConfirmationPolicy interface {
	RequireConfirmation(ctx context.Context, q ConfirmationQuery) (bool, error)
}

type FeeRule struct {
	Percent decimal.Decimal
	Minimum decimal.Decimal
}

func (r FeeRule) Apply(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(r.Percent).Div(decimal.NewFromInt(100))
	if fee.LessThan(r.Minimum) {
		return r.Minimum
	}
	return fee
}

// TransactionValidator is state-free validation plus enrichment: fee
// computation, net amount, and the additional-confirmation decision.
type TransactionValidator struct {
	currencies map[string]struct{}
	thresholds map[string]decimal.Decimal
	fallback   decimal.Decimal
	fees       map[domain.Operation]map[string]FeeRule
	defaultFee map[domain.Operation]FeeRule
	policy     ConfirmationPolicy
	clock      Clock
}

func NewTransactionValidator(policy ConfirmationPolicy, clock Clock) *TransactionValidator {
	if clock == nil {
		clock = time.Now
	}
	return &TransactionValidator{
		currencies: knownCurrencies(),
		thresholds: confirmationThresholds(),
		fallback:   decimal.NewFromInt(500),
		fees:       feeSchedule(),
		defaultFee: defaultFees(),
		policy:     policy,
		clock:      clock,
	}
}

func knownCurrencies() map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range []string{"USD", "EUR", "GBP", "BTC", "ETH", "USDT", "TRX"} {
		out[c] = struct{}{}
	}
	return out
}

func confirmationThresholds() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"USD":  decimal.NewFromInt(1000),
		"EUR":  decimal.NewFromInt(1000),
		"GBP":  decimal.NewFromInt(800),
		"USDT": decimal.NewFromInt(1000),
		"BTC":  decimal.RequireFromString("0.05"),
		"ETH":  decimal.NewFromInt(1),
	}
}

func feeSchedule() map[domain.Operation]map[string]FeeRule {
	pct := decimal.RequireFromString
	return map[domain.Operation]map[string]FeeRule{
		domain.OperationDeposit: {
			"USD": {Percent: pct("1.5"), Minimum: pct("0.50")},
			"EUR": {Percent: pct("1.5"), Minimum: pct("0.50")},
			"BTC": {Percent: pct("0.5"), Minimum: pct("0.0001")},
			"ETH": {Percent: pct("0.5"), Minimum: pct("0.001")},
		},
		domain.OperationWithdrawal: {
			"USD": {Percent: pct("2.0"), Minimum: pct("1.00")},
			"EUR": {Percent: pct("2.0"), Minimum: pct("1.00")},
			"BTC": {Percent: pct("1.0"), Minimum: pct("0.0002")},
			"ETH": {Percent: pct("1.0"), Minimum: pct("0.002")},
		},
		domain.OperationExchange: {
			"USD": {Percent: pct("0.8"), Minimum: pct("0.25")},
			"EUR": {Percent: pct("0.8"), Minimum: pct("0.25")},
		},
	}
}

func defaultFees() map[domain.Operation]FeeRule {
	pct := decimal.RequireFromString
	return map[domain.Operation]FeeRule{
		domain.OperationDeposit:    {Percent: pct("1.5"), Minimum: pct("0.50")},
		domain.OperationWithdrawal: {Percent: pct("2.0"), Minimum: pct("1.00")},
		domain.OperationExchange:   {Percent: pct("1.0"), Minimum: pct("0.25")},
	}
}

func (v *TransactionValidator) Deposit(ctx context.Context, req domain.PaymentRequest) (domain.EnrichedPayment, error) {
	if err := v.validate(domain.OperationDeposit, req); err != nil {
		return domain.EnrichedPayment{}, err
	}
	fee := v.fee(domain.OperationDeposit, req.Currency, req.Amount)
	return v.enrich(ctx, domain.OperationDeposit, req, fee, req.Amount.Sub(fee), decimal.Decimal{})
}

// Withdrawal adds the fee as a surcharge: the net amount is what leaves the
// balance, fee included.
func (v *TransactionValidator) Withdrawal(ctx context.Context, req domain.PaymentRequest) (domain.EnrichedPayment, error) {
	if err := v.validate(domain.OperationWithdrawal, req); err != nil {
		return domain.EnrichedPayment{}, err
	}
	fee := v.fee(domain.OperationWithdrawal, req.Currency, req.Amount)
	return v.enrich(ctx, domain.OperationWithdrawal, req, fee, req.Amount.Add(fee), decimal.Decimal{})
}

// CheckExchange runs the request-only validation for an exchange so callers
// can reject a bad request before fetching a rate.
func (v *TransactionValidator) CheckExchange(req domain.PaymentRequest) error {
	if err := v.validate(domain.OperationExchange, req); err != nil {
		return err
	}
	if req.ToCurrency == "" {
		return domain.NewPaymentError(domain.PaymentErrUnsupportedCurrency, "target currency is required")
	}
	if _, ok := v.currencies[req.ToCurrency]; !ok {
		return domain.NewPaymentError(domain.PaymentErrUnsupportedCurrency, "unknown target currency "+req.ToCurrency)
	}
	return nil
}

func (v *TransactionValidator) Exchange(ctx context.Context, req domain.PaymentRequest, rate decimal.Decimal) (domain.EnrichedPayment, error) {
	if err := v.CheckExchange(req); err != nil {
		return domain.EnrichedPayment{}, err
	}
	if !rate.IsPositive() {
		return domain.EnrichedPayment{}, domain.NewPaymentError(domain.PaymentErrUnknown, "exchange rate unavailable")
	}
	fee := v.fee(domain.OperationExchange, req.Currency, req.Amount)
	net := req.Amount.Sub(fee).Mul(rate)
	return v.enrich(ctx, domain.OperationExchange, req, fee, net, rate)
}

func (v *TransactionValidator) validate(op domain.Operation, req domain.PaymentRequest) error {
	if !req.Amount.IsPositive() {
		return domain.NewPaymentError(domain.PaymentErrInvalidAmount, "amount must be greater than zero")
	}
	if req.Currency == "" {
		return domain.NewPaymentError(domain.PaymentErrUnsupportedCurrency, "currency is required")
	}
	if _, ok := v.currencies[req.Currency]; !ok {
		return domain.NewPaymentError(domain.PaymentErrUnsupportedCurrency, "unknown currency "+req.Currency)
	}
	switch req.MethodID {
	case "crypto":
		// Deposits receive on our own address; only outbound operations
		// need a counterparty.
		if op == domain.OperationDeposit && req.CounterpartyAddress == "" {
			return nil
		}
		if req.CounterpartyAddress == "" {
			return domain.NewPaymentError(domain.PaymentErrMissingDestination, "wallet address is required")
		}
		if err := ValidateWalletAddress(req.CryptoCurrency, req.CounterpartyAddress); err != nil {
			return domain.WrapPaymentError(domain.PaymentErrInvalidWalletAddress, err.Error(), err)
		}
	case "bank":
		if req.BankAccount == "" {
			return domain.NewPaymentError(domain.PaymentErrMissingDestination, "bank account details are required")
		}
	}
	return nil
}

func (v *TransactionValidator) fee(op domain.Operation, currency string, amount decimal.Decimal) decimal.Decimal {
	if rules, ok := v.fees[op]; ok {
		if rule, ok := rules[currency]; ok {
			return rule.Apply(amount)
		}
	}
	return v.defaultFee[op].Apply(amount)
}

func (v *TransactionValidator) enrich(ctx context.Context, op domain.Operation, req domain.PaymentRequest, fee, net, rate decimal.Decimal) (domain.EnrichedPayment, error) {
	confirm, err := v.requireConfirmation(ctx, op, req)
	if err != nil {
		return domain.EnrichedPayment{}, err
	}
	return domain.EnrichedPayment{
		PaymentRequest:                 req,
		Operation:                      op,
		Fee:                            fee,
		NetAmount:                      net,
		ExchangeRate:                   rate,
		RequiresAdditionalConfirmation: confirm,
		Status:                         domain.PaymentStatusPending,
		CreatedAt:                      v.clock().UTC(),
	}, nil
}

func (v *TransactionValidator) requireConfirmation(ctx context.Context, op domain.Operation, req domain.PaymentRequest) (bool, error) {
	if v.policy != nil {
		return v.policy.RequireConfirmation(ctx, ConfirmationQuery{
			Operation: op,
			UserID:    req.UserID,
			MethodID:  req.MethodID,
			Amount:    req.Amount,
			Currency:  req.Currency,
		})
	}
	threshold, ok := v.thresholds[req.Currency]
	if !ok {
		threshold = v.fallback
	}
	return req.Amount.GreaterThanOrEqual(threshold), nil
}
