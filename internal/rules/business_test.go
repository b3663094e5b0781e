package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func fieldRefs(findings []domain.Finding) []string {
	refs := make([]string, len(findings))
	for i, f := range findings {
		refs[i] = f.FieldReference
	}
	return refs
}

func TestRequiredFieldsRule(t *testing.T) {
	rule := NewRequiredFieldsRule()

	t.Run("complete invoice", func(t *testing.T) {
		data := domain.Record{"invoice_number": "INV-1", "date": "2024-01-15", "total_amount": 0.0, "vendor_name": "Acme"}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("missing and blank invoice fields", func(t *testing.T) {
		data := domain.Record{"invoice_number": "  ", "date": nil, "total_amount": 10.0}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Equal(t, []string{"invoice_number", "date", "vendor_name"}, fieldRefs(findings))
		assert.Equal(t, "Required field 'invoice_number' is missing or empty", findings[0].Message)
		for _, f := range findings {
			assert.Equal(t, domain.SeverityWarning, f.Severity)
			assert.InDelta(t, 0.05, f.ConfidenceImpact, 1e-9)
		}
	})

	t.Run("receipt fields", func(t *testing.T) {
		findings, err := rule.Evaluate(domain.Record{"merchant_name": "Cafe"}, domain.ReceiptSchema)
		require.NoError(t, err)
		assert.Equal(t, []string{"date", "total"}, fieldRefs(findings))
	})
}

func TestDueDateRule(t *testing.T) {
	rule := NewDueDateRule()

	tests := []struct {
		name  string
		issue any
		due   any
		want  int
	}{
		{"due after issue", "2024-01-15", "2024-02-15", 0},
		{"same day", "2024-01-15", "2024-01-15", 0},
		{"due before issue", "2024-02-15", "2024-01-15", 1},
		{"mixed formats", "February 15, 2024", "01/15/2024", 1},
		{"unparsable issue date", "someday", "2024-01-15", 0},
		{"unparsable due date", "2024-01-15", "later", 0},
		{"missing due date", "2024-01-15", nil, 0},
		{"non string date", 20240115.0, "2024-01-01", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := rule.Evaluate(domain.Record{"date": tt.issue, "due_date": tt.due}, domain.InvoiceSchema)
			require.NoError(t, err)
			require.Len(t, findings, tt.want)
			if tt.want == 1 {
				f := findings[0]
				assert.True(t, f.IsFraudSignal)
				assert.InDelta(t, 0.15, f.FraudWeight, 1e-9)
				assert.InDelta(t, 0.1, f.ConfidenceImpact, 1e-9)
				assert.Equal(t, "due_date", f.FieldReference)
			}
		})
	}

	findings, _ := rule.Evaluate(domain.Record{"date": "2024-02-15", "due_date": "2024-01-15"}, domain.InvoiceSchema)
	require.Len(t, findings, 1)
	assert.Equal(t, "Due date (2024-01-15) is before issue date (2024-02-15)", findings[0].Message)
	assert.False(t, rule.AppliesTo(domain.ReceiptSchema))
}

func TestNegativeAmountsRule(t *testing.T) {
	rule := NewNegativeAmountsRule()

	t.Run("invoice", func(t *testing.T) {
		data := domain.Record{"total_amount": -500.0, "subtotal": 10.0, "tax_amount": -1}
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Equal(t, []string{"total_amount", "tax_amount"}, fieldRefs(findings))
		assert.Equal(t, "Field 'total_amount' has negative value: -500", findings[0].Message)
		for _, f := range findings {
			assert.Equal(t, domain.SeverityError, f.Severity)
			assert.InDelta(t, 0.15, f.ConfidenceImpact, 1e-9)
			assert.InDelta(t, 0.3, f.Weight(), 1e-9)
		}
	})

	t.Run("receipt names", func(t *testing.T) {
		data := domain.Record{"total": -1.0, "tax": "-2", "total_amount": -3.0}
		findings, err := rule.Evaluate(data, domain.ReceiptSchema)
		require.NoError(t, err)
		assert.Equal(t, []string{"total"}, fieldRefs(findings))
	})
}

func TestAmountThresholdRule(t *testing.T) {
	rule := NewAmountThresholdRule(0)
	assert.Equal(t, "Flags documents with total amount exceeding 100000", rule.Description())

	findings, err := rule.Evaluate(domain.Record{"total_amount": 150000.0}, domain.InvoiceSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Total amount (150000.00) exceeds threshold (100000.00)", findings[0].Message)
	assert.InDelta(t, 0.1, findings[0].Weight(), 1e-9)

	findings, err = rule.Evaluate(domain.Record{"total_amount": 100000.0}, domain.InvoiceSchema)
	require.NoError(t, err)
	assert.Empty(t, findings)

	custom := NewAmountThresholdRule(500)
	findings, err = custom.Evaluate(domain.Record{"total": 501.0}, domain.ReceiptSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "total", findings[0].FieldReference)
}

func TestLineItemsNotEmptyRule(t *testing.T) {
	rule := NewLineItemsNotEmptyRule()

	findings, err := rule.Evaluate(domain.Record{"line_items": []any{}}, domain.InvoiceSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "'line_items' is present but empty", findings[0].Message)

	findings, err = rule.Evaluate(domain.Record{"items": []any{}}, domain.ReceiptSchema)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "items", findings[0].FieldReference)

	for _, data := range []domain.Record{{}, {"line_items": nil}, {"line_items": items(1)}} {
		findings, err := rule.Evaluate(data, domain.InvoiceSchema)
		require.NoError(t, err)
		assert.Empty(t, findings)
	}
}
