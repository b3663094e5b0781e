package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// DefaultRoundNumberFloor is the smallest total checked for round-number anomalies.
	DefaultRoundNumberFloor = 1000.0

	// DefaultMaxQuantity is the default line-item quantity ceiling.
	DefaultMaxQuantity = 10000.0
)

type roundNumberRule struct {
	base
	floor float64
}

// NewRoundNumberRule flags totals of at least floor that are exact multiples of 1000.
func NewRoundNumberRule(floor float64) Rule {
	if floor <= 0 {
		floor = DefaultRoundNumberFloor
	}
	return &roundNumberRule{
		base: base{
			name:        "round_number_anomaly",
			description: "Flags suspiciously round total amounts above threshold",
			shapes:      invoiceAndReceipt,
		},
		floor: floor,
	}
}

func (r *roundNumberRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	key, raw, _ := firstPresent(data, totalKeys(schema)...)
	total, ok := toNumber(raw)
	if !ok || total < r.floor {
		return nil, nil
	}
	if total != math.Trunc(total) || math.Mod(total, 1000) != 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("Total amount (%.2f) is a suspiciously round number", total)
	return []domain.Finding{fraud(r.newWarning(msg, key, 0.05), 0.15)}, nil
}

type duplicateLineItemsRule struct {
	base
}

// NewDuplicateLineItemsRule flags line items repeating the same name and amount.
func NewDuplicateLineItemsRule() Rule {
	return &duplicateLineItemsRule{base{
		name:        "duplicate_line_items",
		description: "Detects line items with identical name and amount",
		shapes:      invoiceAndReceipt,
	}}
}

// itemKey identifies a line item by name and amount. Numbers compare by value.
type itemKey struct {
	name, amount any
}

func keyValue(v any) any {
	switch v.(type) {
	case nil, string, bool:
		return v
	}
	if f, ok := toNumber(v); ok {
		return f
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func (r *duplicateLineItemsRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	key := itemsKey(data)
	items, ok := asList(data[key])
	if !ok || len(items) == 0 {
		return nil, nil
	}

	var findings []domain.Finding
	seen := make(map[itemKey]int)
	for i, it := range items {
		item, ok := asMap(it)
		if !ok {
			continue
		}
		name, amount := item["name"], item["amount"]
		if name == nil && amount == nil {
			continue
		}

		k := itemKey{keyValue(name), keyValue(amount)}
		first, dup := seen[k]
		if !dup {
			seen[k] = i
			continue
		}
		msg := fmt.Sprintf("Duplicate line item: '%s' with amount %s appears at positions %d and %d",
			formatValue(name), formatValue(amount), first, i)
		findings = append(findings, fraud(r.newWarning(msg, fmt.Sprintf("%s[%d]", key, i), 0.05), 0.2))
	}
	return findings, nil
}

type extremeQuantityRule struct {
	base
	ceiling float64
}

// NewExtremeQuantityRule flags negative line-item quantities and quantities above ceiling.
func NewExtremeQuantityRule(ceiling float64) Rule {
	if ceiling <= 0 {
		ceiling = DefaultMaxQuantity
	}
	return &extremeQuantityRule{
		base: base{
			name:        "extreme_quantity",
			description: "Flags line items with quantities outside normal range",
			shapes:      invoiceAndReceipt,
		},
		ceiling: ceiling,
	}
}

func (r *extremeQuantityRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
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
		qty, ok := toNumber(item["quantity"])
		if !ok {
			continue
		}

		field := fmt.Sprintf("%s[%d].quantity", key, i)
		switch {
		case qty < 0:
			msg := fmt.Sprintf("Line item '%s' has negative quantity: %s", itemName(item, i), formatValue(qty))
			findings = append(findings, fraud(r.newWarning(msg, field, 0.1), 0.15))
		case qty > r.ceiling:
			msg := fmt.Sprintf("Line item '%s' has extreme quantity: %s (threshold: %s)",
				itemName(item, i), formatValue(qty), formatValue(r.ceiling))
			findings = append(findings, fraud(r.newWarning(msg, field, 0.05), 0.15))
		}
	}
	return findings, nil
}
