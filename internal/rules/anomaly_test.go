package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestRoundNumberRule(t *testing.T) {
	rule := NewRoundNumberRule(DefaultRoundNumberFloor)

	tests := []struct {
		total any
		want  int
	}{
		{5000.0, 1},
		{1000, 1},
		{5000.5, 0},
		{5100.0, 0},
		{999.0, 0},
		{0.0, 0},
		{"5000", 0},
	}
	for _, tt := range tests {
		findings, err := rule.Evaluate(domain.Record{"total_amount": tt.total}, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Len(t, findings, tt.want, "total %v", tt.total)
	}

	findings, _ := rule.Evaluate(domain.Record{"total": 2000.0}, domain.ReceiptSchema)
	require.Len(t, findings, 1)
	assert.Equal(t, "Total amount (2000.00) is a suspiciously round number", findings[0].Message)
	assert.InDelta(t, 0.15, findings[0].Weight(), 1e-9)
}

func TestDuplicateLineItemsRule(t *testing.T) {
	rule := NewDuplicateLineItemsRule()

	t.Run("one pair", func(t *testing.T) {
		data := domain.Record{"line_items": []any{
			map[string]any{"name": "Widget", "amount": 50.0},
			map[string]any{"name": "Widget", "amount": 50.0},
		}}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, "Duplicate line item: 'Widget' with amount 50 appears at positions 0 and 1", f.Message)
		assert.Equal(t, "line_items[1]", f.FieldReference)
		assert.True(t, f.IsFraudSignal)
		assert.InDelta(t, 0.2, f.FraudWeight, 1e-9)
	})

	t.Run("every repeat references the first occurrence", func(t *testing.T) {
		data := domain.Record{"items": []any{
			map[string]any{"name": "A", "amount": 1.0},
			map[string]any{"name": "B", "amount": 1.0},
			map[string]any{"name": "A", "amount": 1},
			map[string]any{"name": "A", "amount": 1.0},
		}}
		findings, err := rule.Evaluate(data, domain.ReceiptSchema)
		require.NoError(t, err)
		require.Len(t, findings, 2)
		assert.Contains(t, findings[0].Message, "positions 0 and 2")
		assert.Contains(t, findings[1].Message, "positions 0 and 3")
	})

	t.Run("empty keys are ignored", func(t *testing.T) {
		data := domain.Record{"items": []any{
			map[string]any{"quantity": 1.0},
			map[string]any{"quantity": 2.0},
		}}
		findings, err := rule.Evaluate(data, domain.ReceiptSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestExtremeQuantityRule(t *testing.T) {
	rule := NewExtremeQuantityRule(0)

	data := domain.Record{"line_items": []any{
		map[string]any{"name": "Refund", "quantity": -2.0},
		map[string]any{"name": "Screws", "quantity": 20000.0},
		map[string]any{"name": "Nuts", "quantity": 10000.0},
		map[string]any{"name": "Text", "quantity": "lots"},
	}}
	findings, err := rule.Evaluate(data, domain.InvoiceSchema)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "Line item 'Refund' has negative quantity: -2", findings[0].Message)
	assert.InDelta(t, 0.1, findings[0].ConfidenceImpact, 1e-9)
	assert.Equal(t, "line_items[0].quantity", findings[0].FieldReference)

	assert.Equal(t, "Line item 'Screws' has extreme quantity: 20000 (threshold: 10000)", findings[1].Message)
	assert.InDelta(t, 0.05, findings[1].ConfidenceImpact, 1e-9)
	for _, f := range findings {
		assert.InDelta(t, 0.15, f.Weight(), 1e-9)
	}
}
