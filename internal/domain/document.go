package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document is an extracted record stored for historical lookups.
// The entity, number, amount and bank fields are denormalized from Data
// through the shape's FieldMapping.
type Document struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Schema   string `json:"schema"`
	Shape    Shape  `json:"shape"`

	EntityName     string  `json:"entityName,omitempty"`
	EntityID       string  `json:"entityId,omitempty"`
	DocumentNumber string  `json:"documentNumber,omitempty"`
	TotalAmount    float64 `json:"totalAmount"`
	Currency       string  `json:"currency,omitempty"`
	BankAccount    string  `json:"bankAccount,omitempty"`
	BankRouting    string  `json:"bankRouting,omitempty"`

	Data      Record    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldMapping names the record fields that carry the history attributes of a shape.
type FieldMapping struct {
	EntityName     string
	EntityID       string
	DocumentNumber string
	TotalAmount    string
	Currency       string
	BankAccount    string
	BankRouting    string
}

// FieldMappings holds the default mapping per shape.
var FieldMappings = map[Shape]FieldMapping{
	ShapeInvoice: {
		EntityName:     "vendor_name",
		EntityID:       "vendor_tax_id",
		DocumentNumber: "invoice_number",
		TotalAmount:    "total_amount",
		Currency:       "currency",
		BankAccount:    "bank_account",
		BankRouting:    "bank_routing",
	},
	ShapeReceipt: {
		EntityName:     "merchant_name",
		DocumentNumber: "receipt_number",
		TotalAmount:    "total",
		Currency:       "currency",
	},
}

// NewDocument builds a Document from a record, filling the denormalized fields.
func NewDocument(id, tenantID string, schema Schema, data Record) *Document {
	doc := &Document{
		ID:        id,
		TenantID:  tenantID,
		Schema:    schema.Name,
		Shape:     schema.Shape,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	m, ok := FieldMappings[schema.Shape]
	if !ok {
		return doc
	}
	doc.EntityName = textField(data, m.EntityName)
	doc.EntityID = textField(data, m.EntityID)
	doc.DocumentNumber = textField(data, m.DocumentNumber)
	doc.Currency = strings.ToUpper(textField(data, m.Currency))
	doc.BankAccount = textField(data, m.BankAccount)
	doc.BankRouting = textField(data, m.BankRouting)
	if m.TotalAmount != "" {
		switch v := data[m.TotalAmount].(type) {
		case float64:
			doc.TotalAmount = v
		case int:
			doc.TotalAmount = float64(v)
		case int64:
			doc.TotalAmount = float64(v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				doc.TotalAmount = f
			}
		}
	}
	return doc
}

func textField(data Record, key string) string {
	if key == "" {
		return ""
	}
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// EntityProfile aggregates the documents seen for one entity.
type EntityProfile struct {
	EntityName        string    `json:"entityName"`
	TotalDocuments    int       `json:"totalDocuments"`
	TotalAmount       float64   `json:"totalAmount"`
	AvgAmount         float64   `json:"avgAmount"`
	StdDevAmount      float64   `json:"stdDevAmount"`
	MinAmount         float64   `json:"minAmount"`
	MaxAmount         float64   `json:"maxAmount"`
	KnownBankAccounts []string  `json:"knownBankAccounts"`
	KnownEntityIDs    []string  `json:"knownEntityIds"`
	FirstSeen         time.Time `json:"firstSeen"`
	LastSeen          time.Time `json:"lastSeen"`
}

// BankDetail is one bank account/routing pair used by an entity.
type BankDetail struct {
	BankAccount string    `json:"bankAccount"`
	BankRouting string    `json:"bankRouting,omitempty"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	Documents   int       `json:"documents"`
}

// EntityIDUsage records an entity name that used a given entity id.
type EntityIDUsage struct {
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName"`
	Documents  int    `json:"documents"`
}

// FraudContext is the historical context of one document.
type FraudContext struct {
	DocumentID         string          `json:"documentId"`
	EntityProfile      *EntityProfile  `json:"entityProfile,omitempty"`
	DuplicateDocuments []*Document     `json:"duplicateDocuments"`
	BankDetailChanges  []BankDetail    `json:"bankDetailChanges"`
	AmountZScore       *float64        `json:"amountZScore,omitempty"`
	EntityIDConflicts  []EntityIDUsage `json:"entityIdConflicts"`
}
