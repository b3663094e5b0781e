// Package rules provides the document validation rules and the engine that runs them.
package rules

import (
	"errors"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidRule is returned when a rule definition cannot be used.
var ErrInvalidRule = errors.New("invalid rule")

// Rule is a single independent check over an extracted record.
//
// Evaluate must not mutate data. A non-nil error means the rule could not
// run on this record; the engine records it and moves on.
type Rule interface {
	Name() string
	Description() string
	AppliesTo(schema domain.Schema) bool
	Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error)
}

// base carries the identity and shape restriction shared by the built-in rules.
type base struct {
	name        string
	description string
	shapes      []domain.Shape // empty means every schema
}

func (b base) Name() string        { return b.name }
func (b base) Description() string { return b.description }

func (b base) AppliesTo(schema domain.Schema) bool {
	if len(b.shapes) == 0 {
		return true
	}
	for _, s := range b.shapes {
		if schema.Is(s) {
			return true
		}
	}
	return false
}

func (b base) newWarning(message, field string, impact float64) domain.Finding {
	return domain.Finding{
		RuleName:         b.name,
		Severity:         domain.SeverityWarning,
		Message:          message,
		FieldReference:   field,
		ConfidenceImpact: impact,
	}
}

func (b base) newError(message, field string, impact float64) domain.Finding {
	f := b.newWarning(message, field, impact)
	f.Severity = domain.SeverityError
	return f
}

// fraud marks a finding as a fraud signal with the given weight.
func fraud(f domain.Finding, weight float64) domain.Finding {
	f.IsFraudSignal = true
	f.FraudWeight = weight
	return f
}

var (
	invoiceAndReceipt = []domain.Shape{domain.ShapeInvoice, domain.ShapeReceipt}
	invoiceOnly       = []domain.Shape{domain.ShapeInvoice}
	receiptOnly       = []domain.Shape{domain.ShapeReceipt}
)

// EvaluateFunc is the signature of a rule's evaluation.
type EvaluateFunc func(data domain.Record, schema domain.Schema) ([]domain.Finding, error)

type funcRule struct {
	base
	fn EvaluateFunc
}

// NewFuncRule builds a rule from a function. With no shapes it applies to every schema.
func NewFuncRule(name, description string, fn EvaluateFunc, shapes ...domain.Shape) Rule {
	return &funcRule{
		base: base{name: name, description: description, shapes: shapes},
		fn:   fn,
	}
}

func (r *funcRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	return r.fn(data, schema)
}
