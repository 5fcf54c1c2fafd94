// Package policy evaluates rego-driven confirmation rules for payments.
// Deployments that need more than the static per-currency threshold table
// (velocity rules, jurisdiction rules) ship a bundle; the validator falls
// back to the table when no engine is configured.
package policy

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.walletd.confirmation.result"

// ConfirmationInput is what the bundle sees for one payment.
type ConfirmationInput struct {
	Operation string `json:"operation"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	MethodID  string `json:"method_id"`
}

type ConfirmationResult struct {
	RequireConfirmation bool     `json:"require_confirmation"`
	Deny                []string `json:"deny,omitempty"`
}

type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input ConfirmationInput) (ConfirmationResult, error) {
	if e == nil {
		return ConfirmationResult{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return ConfirmationResult{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ConfirmationResult{}, errors.New("empty policy result")
	}
	raw := results[0].Expressions[0].Value
	payload, err := json.Marshal(raw)
	if err != nil {
		return ConfirmationResult{}, err
	}
	var result ConfirmationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return ConfirmationResult{}, err
	}
	return result, nil
}
