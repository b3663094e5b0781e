package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTolerance is the default allowed difference for arithmetic checks.
const DefaultTolerance = 0.02

// errorDiff is the difference above which an arithmetic mismatch is an error.
const errorDiff = 1.0

func tolerance(t float64) float64 {
	if t <= 0 {
		return DefaultTolerance
	}
	return t
}

type lineItemsSumRule struct {
	base
	tolerance float64
}

// NewLineItemsSumRule checks that line item amounts sum to the subtotal.
func NewLineItemsSumRule(tol float64) Rule {
	return &lineItemsSumRule{
		base: base{
			name:        "line_items_sum_to_subtotal",
			description: "Verifies that the sum of line item amounts equals the subtotal",
			shapes:      invoiceAndReceipt,
		},
		tolerance: tolerance(tol),
	}
}

func (r *lineItemsSumRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	key := itemsKey(data)
	rawItems, rawSubtotal := data[key], data["subtotal"]
	if rawItems == nil || rawSubtotal == nil {
		return nil, nil
	}

	items, ok := asList(rawItems)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", key, rawItems)
	}
	subtotal, err := number(rawSubtotal, "subtotal")
	if err != nil {
		return nil, err
	}

	var sum float64
	for i, it := range items {
		item, ok := asMap(it)
		if !ok {
			continue
		}
		amount, err := numberOrZero(item["amount"], fmt.Sprintf("%s[%d].amount", key, i))
		if err != nil {
			return nil, err
		}
		sum += amount
	}

	diff := math.Abs(sum - subtotal)
	if diff <= r.tolerance {
		return nil, nil
	}

	msg := fmt.Sprintf("Line items sum (%.2f) does not match subtotal (%.2f), diff=%.2f", sum, subtotal, diff)
	if diff > errorDiff {
		return []domain.Finding{fraud(r.newError(msg, "subtotal", 0.15), 0.2)}, nil
	}
	return []domain.Finding{r.newWarning(msg, "subtotal", 0.05)}, nil
}

type subtotalTaxTotalRule struct {
	base
	tolerance float64
}

// NewSubtotalTaxTotalRule checks that subtotal + tax - discount equals the total.
func NewSubtotalTaxTotalRule(tol float64) Rule {
	return &subtotalTaxTotalRule{
		base: base{
			name:        "subtotal_plus_tax_equals_total",
			description: "Verifies that subtotal + tax - discount equals total",
			shapes:      invoiceAndReceipt,
		},
		tolerance: tolerance(tol),
	}
}

func (r *subtotalTaxTotalRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	totalKeys, taxKeys := []string{"total", "total_amount"}, []string{"tax", "tax_amount"}
	withDiscount := false
	if schema.Is(domain.ShapeInvoice) {
		totalKeys, taxKeys = []string{"total_amount", "total"}, []string{"tax_amount", "tax"}
		withDiscount = true
	}

	totalKey, rawTotal, _ := firstPresent(data, totalKeys...)
	rawSubtotal := data["subtotal"]
	if rawSubtotal == nil || rawTotal == nil {
		return nil, nil
	}

	subtotal, err := number(rawSubtotal, "subtotal")
	if err != nil {
		return nil, err
	}
	total, err := number(rawTotal, totalKey)
	if err != nil {
		return nil, err
	}
	taxKey, rawTax, _ := firstPresent(data, taxKeys...)
	tax, err := numberOrZero(rawTax, taxKey)
	if err != nil {
		return nil, err
	}
	var discount float64
	if withDiscount {
		if discount, err = numberOrZero(data["discount"], "discount"); err != nil {
			return nil, err
		}
	}

	expected := subtotal + tax - discount
	diff := math.Abs(expected - total)
	if diff <= r.tolerance {
		return nil, nil
	}

	msg := fmt.Sprintf("Subtotal (%.2f) + tax (%.2f) - discount (%.2f) = %.2f, but total is %.2f, diff=%.2f",
		subtotal, tax, discount, expected, total, diff)
	if diff > errorDiff {
		return []domain.Finding{fraud(r.newError(msg, totalKey, 0.15), 0.25)}, nil
	}
	return []domain.Finding{r.newWarning(msg, totalKey, 0.05)}, nil
}

type lineItemMathRule struct {
	base
	tolerance float64
}

// NewLineItemMathRule checks quantity * unit price against each line item amount.
func NewLineItemMathRule(tol float64) Rule {
	return &lineItemMathRule{
		base: base{
			name:        "line_item_internal_math",
			description: "Verifies that quantity * unit_price equals amount for each line item",
			shapes:      invoiceAndReceipt,
		},
		tolerance: tolerance(tol),
	}
}

func (r *lineItemMathRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	key := itemsKey(data)
	items, ok := asList(data[key])
	if !ok || len(items) == 0 {
		return nil, nil
	}

	var findings []domain.Finding
	for i, it := range items {
		item, ok := asMap(it)
		if !ok {
			continue
		}
		rawQty, rawAmount := item["quantity"], item["amount"]
		rawPrice := firstTruthy(item, "unit_price_with_taxes", "unit_price_without_taxes", "unit_price")
		if rawQty == nil || rawAmount == nil || rawPrice == nil {
			continue
		}

		path := fmt.Sprintf("%s[%d]", key, i)
		qty, err := number(rawQty, path+".quantity")
		if err != nil {
			return nil, err
		}
		price, err := number(rawPrice, path+".unit_price")
		if err != nil {
			return nil, err
		}
		amount, err := number(rawAmount, path+".amount")
		if err != nil {
			return nil, err
		}

		expected := qty * price
		if math.Abs(expected-amount) > r.tolerance {
			msg := fmt.Sprintf("Line item '%s': quantity (%s) * unit_price (%.2f) = %.2f, but amount is %.2f",
				itemName(item, i), formatValue(rawQty), price, expected, amount)
			findings = append(findings, r.newWarning(msg, path+".amount", 0.05))
		}
	}
	return findings, nil
}

type taxPercentageRule struct {
	base
	tolerance float64
}

// NewTaxPercentageRule checks line item taxes against their tax percentage.
func NewTaxPercentageRule(tol float64) Rule {
	return &taxPercentageRule{
		base: base{
			name:        "tax_percentage_consistency",
			description: "Verifies that taxes match taxes_percentage * base price for line items",
			shapes:      invoiceAndReceipt,
		},
		tolerance: tolerance(tol),
	}
}

func (r *taxPercentageRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	key := itemsKey(data)
	items, ok := asList(data[key])
	if !ok || len(items) == 0 {
		return nil, nil
	}

	var findings []domain.Finding
	for i, it := range items {
		item, ok := asMap(it)
		if !ok {
			continue
		}
		rawTaxes, rawPct := item["taxes"], item["taxes_percentage"]
		rawBase := firstTruthy(item, "unit_price_without_taxes", "amount")
		if rawTaxes == nil || rawPct == nil || rawBase == nil {
			continue
		}

		path := fmt.Sprintf("%s[%d]", key, i)
		taxes, err := number(rawTaxes, path+".taxes")
		if err != nil {
			return nil, err
		}
		pct, err := number(rawPct, path+".taxes_percentage")
		if err != nil {
			return nil, err
		}
		basePrice, err := number(rawBase, path+".unit_price_without_taxes")
		if err != nil {
			return nil, err
		}

		expected := basePrice * pct / 100.0
		if math.Abs(expected-taxes) > r.tolerance {
			msg := fmt.Sprintf("Line item '%s': expected taxes %.2f (%s%% of %.2f), but got %.2f",
				itemName(item, i), expected, formatValue(rawPct), basePrice, taxes)
			findings = append(findings, r.newWarning(msg, path+".taxes", 0.05))
		}
	}
	return findings, nil
}
