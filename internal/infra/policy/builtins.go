package policy

import "github.com/open-policy-agent/opa/ast"

// Confirmation bundles are pure decision logic; anything that could reach
// out of the evaluation (network, environment) is stripped.
var allowedBuiltins = map[string]struct{}{
	"abs":            {},
	"assign":         {},
	"ceil":           {},
	"concat":         {},
	"contains":       {},
	"count":          {},
	"eq":             {},
	"equal":          {},
	"endswith":       {},
	"floor":          {},
	"format_int":     {},
	"gt":             {},
	"gte":            {},
	"lt":             {},
	"lte":            {},
	"json.marshal":   {},
	"json.unmarshal": {},
	"lower":          {},
	"max":            {},
	"min":            {},
	"neq":            {},
	"object.get":     {},
	"round":          {},
	"split":          {},
	"sprintf":        {},
	"startswith":     {},
	"substring":      {},
	"sum":            {},
	"to_number":      {},
	"trim":           {},
	"upper":          {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
