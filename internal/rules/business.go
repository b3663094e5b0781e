package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultAmountThreshold is the default total above which a document is flagged.
const DefaultAmountThreshold = 100000.0

// requiredFields lists the mandatory fields per shape.
var requiredFields = map[domain.Shape][]string{
	domain.ShapeInvoice: {"invoice_number", "date", "total_amount", "vendor_name"},
	domain.ShapeReceipt: {"merchant_name", "date", "total"},
}

// amountFields lists the monetary fields per shape that must not be negative.
var amountFields = map[domain.Shape][]string{
	domain.ShapeInvoice: {"total_amount", "subtotal", "tax_amount"},
	domain.ShapeReceipt: {"total", "subtotal", "tax"},
}

// totalKeys returns the candidate names of the document total, preferred first.
func totalKeys(schema domain.Schema) []string {
	if schema.Is(domain.ShapeInvoice) {
		return []string{"total_amount", "total"}
	}
	return []string{"total", "total_amount"}
}

type requiredFieldsRule struct {
	base
}

// NewRequiredFieldsRule checks that the mandatory fields of the shape are present and not blank.
func NewRequiredFieldsRule() Rule {
	return &requiredFieldsRule{base{
		name:        "required_fields_present",
		description: "Verifies that critical fields are present and non-null",
		shapes:      invoiceAndReceipt,
	}}
}

func (r *requiredFieldsRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	var findings []domain.Finding
	for _, field := range requiredFields[schema.Shape] {
		value := data[field]
		if s, ok := value.(string); value != nil && (!ok || strings.TrimSpace(s) != "") {
			continue
		}
		msg := fmt.Sprintf("Required field '%s' is missing or empty", field)
		findings = append(findings, r.newWarning(msg, field, 0.05))
	}
	return findings, nil
}

type dueDateRule struct {
	base
}

// NewDueDateRule checks that an invoice is not due before it was issued.
// Dates that cannot be parsed are skipped without a finding.
func NewDueDateRule() Rule {
	return &dueDateRule{base{
		name:        "due_date_after_issue_date",
		description: "Verifies that due_date is on or after the issue date",
		shapes:      invoiceOnly,
	}}
}

func (r *dueDateRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	issueRaw, issueOK := data["date"].(string)
	dueRaw, dueOK := data["due_date"].(string)
	if !issueOK || !dueOK {
		return nil, nil
	}

	issue, ok := parseDate(issueRaw)
	if !ok {
		return nil, nil
	}
	due, ok := parseDate(dueRaw)
	if !ok {
		return nil, nil
	}

	if !due.before(issue) {
		return nil, nil
	}
	msg := fmt.Sprintf("Due date (%s) is before issue date (%s)", dueRaw, issueRaw)
	return []domain.Finding{fraud(r.newWarning(msg, "due_date", 0.1), 0.15)}, nil
}

type negativeAmountsRule struct {
	base
}

// NewNegativeAmountsRule flags negative monetary amounts.
func NewNegativeAmountsRule() Rule {
	return &negativeAmountsRule{base{
		name:        "no_negative_amounts",
		description: "Verifies that monetary amounts are non-negative",
		shapes:      invoiceAndReceipt,
	}}
}

func (r *negativeAmountsRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	var findings []domain.Finding
	for _, field := range amountFields[schema.Shape] {
		value, ok := toNumber(data[field])
		if !ok || value >= 0 {
			continue
		}
		msg := fmt.Sprintf("Field '%s' has negative value: %s", field, formatValue(data[field]))
		findings = append(findings, fraud(r.newError(msg, field, 0.15), 0.3))
	}
	return findings, nil
}

type amountThresholdRule struct {
	base
	threshold float64
}

// NewAmountThresholdRule flags totals above threshold.
func NewAmountThresholdRule(threshold float64) Rule {
	if threshold <= 0 {
		threshold = DefaultAmountThreshold
	}
	return &amountThresholdRule{
		base: base{
			name:        "amount_threshold",
			description: fmt.Sprintf("Flags documents with total amount exceeding %s", formatValue(threshold)),
			shapes:      invoiceAndReceipt,
		},
		threshold: threshold,
	}
}

func (r *amountThresholdRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	key, raw, _ := firstPresent(data, totalKeys(schema)...)
	total, ok := toNumber(raw)
	if !ok || total <= r.threshold {
		return nil, nil
	}
	msg := fmt.Sprintf("Total amount (%.2f) exceeds threshold (%.2f)", total, r.threshold)
	return []domain.Finding{fraud(r.newWarning(msg, key, 0.05), 0.1)}, nil
}

type lineItemsNotEmptyRule struct {
	base
}

// NewLineItemsNotEmptyRule flags a line-item list that is present but empty.
func NewLineItemsNotEmptyRule() Rule {
	return &lineItemsNotEmptyRule{base{
		name:        "line_items_not_empty",
		description: "Verifies that line items list is not empty when present",
		shapes:      invoiceAndReceipt,
	}}
}

func (r *lineItemsNotEmptyRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	key := itemsKey(data)
	items, ok := asList(data[key])
	if !ok || len(items) > 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("'%s' is present but empty", key)
	return []domain.Finding{r.newWarning(msg, key, 0.05)}, nil
}
