package policy

import (
	"context"
	"fmt"
	"strings"

	"walletd/internal/usecase"
)

// RequireConfirmation adapts the rego result to the validator's policy port.
// A deny result is surfaced as a plain error; the validator does not retry
// policy decisions.
func (e *Engine) RequireConfirmation(ctx context.Context, q usecase.ConfirmationQuery) (bool, error) {
	result, err := e.Evaluate(ctx, ConfirmationInput{
		Operation: string(q.Operation),
		UserID:    q.UserID,
		MethodID:  q.MethodID,
		Amount:    q.Amount.String(),
		Currency:  q.Currency,
	})
	if err != nil {
		return false, err
	}
	if len(result.Deny) > 0 {
		return false, fmt.Errorf("payment denied by policy: %s", strings.Join(result.Deny, "; "))
	}
	return result.RequireConfirmation, nil
}

var _ usecase.ConfirmationPolicy = (*Engine)(nil)
