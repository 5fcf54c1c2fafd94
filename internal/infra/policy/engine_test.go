package policy

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"walletd/internal/domain"
	"walletd/internal/usecase"

	"github.com/shopspring/decimal"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join("..", "..", "..", "policy", "bundles", "reference_v0")
	engine, err := NewEngineFromBundlePath(context.Background(), path)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func baseInput() ConfirmationInput {
	return ConfirmationInput{
		Operation: "deposit",
		UserID:    "u1",
		MethodID:  "card",
		Amount:    "100",
		Currency:  "USD",
	}
}

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := baseInput()

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected deterministic policy evaluation")
	}
	if first.RequireConfirmation {
		t.Fatal("a $100 deposit must not require confirmation")
	}
	if len(first.Deny) != 0 {
		t.Fatalf("expected empty deny list, got %v", first.Deny)
	}
}

func TestEngineThresholds(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name   string
		mutate func(input *ConfirmationInput)
		want   bool
	}{
		{
			name:   "usd at threshold",
			mutate: func(input *ConfirmationInput) { input.Amount = "1000" },
			want:   true,
		},
		{
			name:   "usd below threshold",
			mutate: func(input *ConfirmationInput) { input.Amount = "999.99" },
			want:   false,
		},
		{
			name: "gbp has a lower threshold",
			mutate: func(input *ConfirmationInput) {
				input.Currency = "GBP"
				input.Amount = "800"
			},
			want: true,
		},
		{
			name: "unknown currency uses the fallback",
			mutate: func(input *ConfirmationInput) {
				input.Currency = "TRX"
				input.Amount = "500"
			},
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := baseInput()
			tc.mutate(&input)
			out, err := engine.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if out.RequireConfirmation != tc.want {
				t.Fatalf("require_confirmation = %v, want %v", out.RequireConfirmation, tc.want)
			}
		})
	}
}

func TestEngineAdapterSurfacesDeny(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.RequireConfirmation(context.Background(), usecase.ConfirmationQuery{
		Operation: domain.OperationWithdrawal,
		UserID:    "u1",
		MethodID:  "crypto",
		Amount:    decimal.RequireFromString("15000"),
		Currency:  "USD",
	})
	if err == nil {
		t.Fatal("expected a deny to surface as an error")
	}

	confirm, err := engine.RequireConfirmation(context.Background(), usecase.ConfirmationQuery{
		Operation: domain.OperationWithdrawal,
		UserID:    "u1",
		MethodID:  "crypto",
		Amount:    decimal.RequireFromString("5000"),
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("require confirmation: %v", err)
	}
	if !confirm {
		t.Fatal("a $5000 withdrawal must require confirmation")
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(10)")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package walletd.confirmation
result := {"require_confirmation": true, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "confirmation.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir)
	if err == nil {
		t.Fatal("expected builtin to be rejected")
	}
}
