package domain

import (
	"errors"
	"strings"
)

// ErrUnknownSchema is returned when a schema name cannot be resolved.
var ErrUnknownSchema = errors.New("unknown schema")

// Record is an extracted document: field name to value.
// Values are nil, string, bool, numbers, []any or map[string]any.
type Record map[string]any

// Shape identifies the family of field names a record uses.
type Shape string

const (
	ShapeInvoice Shape = "invoice"
	ShapeReceipt Shape = "receipt"
)

// Schema identifies which family of field names and required fields applies to a record.
// A custom schema derived from one of the built-in families carries that family's shape.
type Schema struct {
	Name  string `json:"name"`
	Shape Shape  `json:"shape,omitempty"`
}

// Predefined schemas.
var (
	InvoiceSchema = Schema{Name: "InvoiceData", Shape: ShapeInvoice}
	ReceiptSchema = Schema{Name: "ReceiptData", Shape: ShapeReceipt}
)

// NewSchema creates a schema handle for a custom record type.
func NewSchema(name string, shape Shape) Schema {
	return Schema{Name: name, Shape: shape}
}

// Is reports whether the schema is, or derives from, the given shape.
func (s Schema) Is(shape Shape) bool {
	return shape != "" && s.Shape == shape
}

// String returns the schema name.
func (s Schema) String() string {
	return s.Name
}

// ParseShape converts a shape name. The empty string yields an empty shape.
func ParseShape(name string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return "", nil
	case "invoice":
		return ShapeInvoice, nil
	case "receipt":
		return ShapeReceipt, nil
	default:
		return "", ErrUnknownSchema
	}
}

// LookupSchema resolves one of the built-in schema names.
func LookupSchema(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "invoice", "invoicedata":
		return InvoiceSchema, nil
	case "receipt", "receiptdata":
		return ReceiptSchema, nil
	default:
		return Schema{}, ErrUnknownSchema
	}
}

// ResolveSchema returns a built-in schema by name when no shape is given,
// otherwise a custom schema of that shape.
func ResolveSchema(name, shape string) (Schema, error) {
	if strings.TrimSpace(shape) == "" {
		return LookupSchema(name)
	}
	sh, err := ParseShape(shape)
	if err != nil {
		return Schema{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(sh)
	}
	return NewSchema(name, sh), nil
}
