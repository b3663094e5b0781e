package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func items(amounts ...float64) []any {
	out := make([]any, len(amounts))
	for i, a := range amounts {
		out[i] = map[string]any{"amount": a}
	}
	return out
}

func TestLineItemsSumRule(t *testing.T) {
	rule := NewLineItemsSumRule(DefaultTolerance)

	t.Run("exact match", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"subtotal": 300.0, "line_items": items(100, 200)}, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("within tolerance", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"subtotal": 300.01, "line_items": items(100, 200)}, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("small diff is a warning", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"subtotal": 300.5, "line_items": items(100, 200)}, domain.InvoiceSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, domain.SeverityWarning, f.Severity)
		assert.InDelta(t, 0.05, f.ConfidenceImpact, 1e-9)
		assert.False(t, f.IsFraudSignal)
		assert.Equal(t, "subtotal", f.FieldReference)
	})

	t.Run("large diff is an error and fraud signal", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"subtotal": 999.99, "line_items": items(100, 200)}, domain.InvoiceSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, domain.SeverityError, f.Severity)
		assert.InDelta(t, 0.15, f.ConfidenceImpact, 1e-9)
		assert.True(t, f.IsFraudSignal)
		assert.InDelta(t, 0.2, f.FraudWeight, 1e-9)
		assert.Equal(t, "Line items sum (300.00) does not match subtotal (999.99), diff=699.99", f.Message)
	})

	t.Run("items key fallback", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"subtotal": 50.0, "items": items(20, 20)}, domain.ReceiptSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, domain.SeverityError, findings[0].Severity)
	})

	t.Run("null amounts count as zero", func(t *testing.T) {
		data := domain.Record{"subtotal": 100.0, "line_items": []any{
			map[string]any{"amount": 100.0},
			map[string]any{"amount": nil},
			"not an item",
		}}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("missing side is skipped", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"line_items": items(1)}, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("non numeric subtotal fails", func(t *testing.T) {
		_, err := rule.Evaluate(domain.Record{"subtotal": "abc", "line_items": items(1)}, domain.InvoiceSchema)
		assert.Error(t, err)
	})

	t.Run("integer inputs", func(t *testing.T) {
		data := domain.Record{"subtotal": 30, "line_items": []map[string]any{{"amount": 10}, {"amount": 20}}}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestSubtotalTaxTotalRule(t *testing.T) {
	rule := NewSubtotalTaxTotalRule(0)

	tests := []struct {
		name     string
		schema   domain.Schema
		data     domain.Record
		severity domain.Severity // empty means no finding
		field    string
	}{
		{
			name:   "invoice balanced with discount",
			schema: domain.InvoiceSchema,
			data:   domain.Record{"subtotal": 100.0, "tax_amount": 10.0, "discount": 5.0, "total_amount": 105.0},
		},
		{
			name:     "invoice total off",
			schema:   domain.InvoiceSchema,
			data:     domain.Record{"subtotal": 100.0, "tax_amount": 10.0, "total_amount": 200.0},
			severity: domain.SeverityError,
			field:    "total_amount",
		},
		{
			name:   "missing tax counts as zero",
			schema: domain.InvoiceSchema,
			data:   domain.Record{"subtotal": 100.0, "total_amount": 100.0},
		},
		{
			name:     "receipt small diff",
			schema:   domain.ReceiptSchema,
			data:     domain.Record{"subtotal": 100.0, "tax": 10.0, "total": 110.5},
			severity: domain.SeverityWarning,
			field:    "total",
		},
		{
			name:   "receipt ignores discount",
			schema: domain.ReceiptSchema,
			data:   domain.Record{"subtotal": 100.0, "tax": 10.0, "discount": 10.0, "total": 110.0},
		},
		{
			name:   "no total",
			schema: domain.ReceiptSchema,
			data:   domain.Record{"subtotal": 100.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := rule.Evaluate(tt.data, tt.schema)
			require.NoError(t, err)
			if tt.severity == "" {
				assert.Empty(t, findings)
				return
			}
			require.Len(t, findings, 1)
			assert.Equal(t, tt.severity, findings[0].Severity)
			assert.Equal(t, tt.field, findings[0].FieldReference)
			if tt.severity == domain.SeverityError {
				assert.InDelta(t, 0.25, findings[0].Weight(), 1e-9)
			} else {
				assert.Zero(t, findings[0].Weight())
			}
		})
	}
}

func TestLineItemMathRule(t *testing.T) {
	rule := NewLineItemMathRule(DefaultTolerance)

	t.Run("mismatch per item", func(t *testing.T) {
		data := domain.Record{"line_items": []any{
			map[string]any{"name": "Widget", "quantity": 2.0, "unit_price_without_taxes": 10.0, "amount": 25.0},
			map[string]any{"name": "Bolt", "quantity": 3.0, "unit_price_with_taxes": 2.0, "amount": 6.0},
		}}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "Line item 'Widget': quantity (2) * unit_price (10.00) = 20.00, but amount is 25.00", findings[0].Message)
		assert.Equal(t, "line_items[0].amount", findings[0].FieldReference)
		assert.Equal(t, domain.SeverityWarning, findings[0].Severity)
	})

	t.Run("zero price with taxes falls back", func(t *testing.T) {
		data := domain.Record{"items": []any{
			map[string]any{"quantity": 2.0, "unit_price_with_taxes": 0.0, "unit_price_without_taxes": 5.0, "amount": 10.0},
		}}
		findings, err := rule.Evaluate(data, domain.ReceiptSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("zero prices still checked", func(t *testing.T) {
		data := domain.Record{"items": []any{
			map[string]any{"quantity": 2.0, "unit_price_with_taxes": 0.0, "unit_price_without_taxes": 0.0, "amount": 50.0},
		}}
		findings, err := rule.Evaluate(data, domain.ReceiptSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "items[0].amount", findings[0].FieldReference)
	})

	t.Run("incomplete items are skipped", func(t *testing.T) {
		data := domain.Record{"line_items": []any{map[string]any{"quantity": 2.0, "amount": 10.0}}}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestTaxPercentageRule(t *testing.T) {
	rule := NewTaxPercentageRule(DefaultTolerance)

	data := domain.Record{"items": []any{
		map[string]any{"taxes": 2.0, "taxes_percentage": 10.0, "unit_price_without_taxes": 100.0},
		map[string]any{"taxes": 5.0, "taxes_percentage": 10.0, "amount": 50.0},
	}}
	findings, err := rule.Evaluate(data, domain.ReceiptSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Line item 'item #1': expected taxes 10.00 (10% of 100.00), but got 2.00", findings[0].Message)
	assert.Equal(t, "items[0].taxes", findings[0].FieldReference)

	t.Run("zero base still checked", func(t *testing.T) {
		data := domain.Record{"items": []any{
			map[string]any{"taxes": 1.0, "taxes_percentage": 10.0, "unit_price_without_taxes": 0.0, "amount": 0.0},
		}}
		findings, err := rule.Evaluate(data, domain.ReceiptSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "items[0].taxes", findings[0].FieldReference)
	})
}

func TestArithmeticRulesApplicability(t *testing.T) {
	custom := domain.NewSchema("Contract", "")
	derived := domain.NewSchema("UtilityInvoice", domain.ShapeInvoice)

	for _, r := range []Rule{NewLineItemsSumRule(0), NewSubtotalTaxTotalRule(0), NewLineItemMathRule(0), NewTaxPercentageRule(0)} {
		assert.True(t, r.AppliesTo(domain.InvoiceSchema), r.Name())
		assert.True(t, r.AppliesTo(domain.ReceiptSchema), r.Name())
		assert.True(t, r.AppliesTo(derived), r.Name())
		assert.False(t, r.AppliesTo(custom), r.Name())
	}
}
