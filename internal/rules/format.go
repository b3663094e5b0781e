package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// validCurrencies are the ISO 4217 codes accepted by the currency rule.
var validCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CHF": {}, "CAD": {}, "AUD": {}, "NZD": {},
	"CNY": {}, "HKD": {}, "SGD": {}, "SEK": {}, "NOK": {}, "DKK": {}, "KRW": {}, "INR": {},
	"BRL": {}, "MXN": {}, "ZAR": {}, "RUB": {}, "TRY": {}, "PLN": {}, "CZK": {}, "HUF": {},
	"ILS": {}, "THB": {}, "MYR": {}, "PHP": {}, "IDR": {}, "TWD": {}, "AED": {}, "SAR": {},
	"ARS": {}, "CLP": {}, "COP": {}, "PEN": {}, "EGP": {}, "NGN": {}, "KES": {}, "MAD": {},
}

var cardLastFour = regexp.MustCompile(`^[0-9]{4}$`)

// minTaxIDLength is the shortest plausible vendor tax identifier.
const minTaxIDLength = 5

type dateFormatRule struct {
	base
}

// NewDateFormatRule checks date fields against common date spellings.
func NewDateFormatRule() Rule {
	return &dateFormatRule{base{
		name:        "date_format_valid",
		description: "Verifies that date fields match common date patterns",
		shapes:      invoiceAndReceipt,
	}}
}

func (r *dateFormatRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	fields := []string{"date"}
	if schema.Is(domain.ShapeInvoice) {
		fields = append(fields, "due_date")
	}

	var findings []domain.Finding
	for _, field := range fields {
		value, ok := data[field].(string)
		if !ok {
			continue
		}
		if !datePattern.MatchString(value) {
			msg := fmt.Sprintf("Field '%s' value '%s' does not match common date formats", field, value)
			findings = append(findings, r.newWarning(msg, field, 0.05))
		}
	}
	return findings, nil
}

type currencyCodeRule struct {
	base
}

// NewCurrencyCodeRule checks the currency against an allow-list of ISO 4217 codes.
func NewCurrencyCodeRule() Rule {
	return &currencyCodeRule{base{
		name:        "currency_code_valid",
		description: "Verifies that currency field is a valid ISO 4217 code",
		shapes:      invoiceOnly,
	}}
}

func (r *currencyCodeRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	currency, ok := data["currency"].(string)
	if !ok {
		return nil, nil
	}
	if _, valid := validCurrencies[strings.ToUpper(strings.TrimSpace(currency))]; valid {
		return nil, nil
	}
	msg := fmt.Sprintf("Currency code '%s' is not a recognized ISO 4217 code", currency)
	return []domain.Finding{r.newWarning(msg, "currency", 0.05)}, nil
}

type taxIDFormatRule struct {
	base
}

// NewTaxIDFormatRule flags vendor tax identifiers that are too short to be real.
func NewTaxIDFormatRule() Rule {
	return &taxIDFormatRule{base{
		name:        "tax_id_format_valid",
		description: "Verifies that vendor tax ID is non-empty and has minimum length",
		shapes:      invoiceOnly,
	}}
}

func (r *taxIDFormatRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	key, raw, ok := firstPresent(data, "vendor_tax_id", "issuer_tax_id")
	if !ok {
		return nil, nil
	}
	taxID, ok := raw.(string)
	if !ok {
		return nil, nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(taxID)) >= minTaxIDLength {
		return nil, nil
	}
	msg := fmt.Sprintf("Vendor tax ID '%s' is suspiciously short (< %d characters)", taxID, minTaxIDLength)
	return []domain.Finding{fraud(r.newWarning(msg, key, 0.05), 0.1)}, nil
}

type cardLastFourRule struct {
	base
}

// NewCardLastFourRule checks that card_last_four is exactly four digits.
func NewCardLastFourRule() Rule {
	return &cardLastFourRule{base{
		name:        "card_last_four_format",
		description: "Verifies that card_last_four is exactly 4 digits",
		shapes:      receiptOnly,
	}}
}

func (r *cardLastFourRule) Evaluate(data domain.Record, _ domain.Schema) ([]domain.Finding, error) {
	card := data["card_last_four"]
	if card == nil {
		return nil, nil
	}
	if cardLastFour.MatchString(strings.TrimSpace(formatValue(card))) {
		return nil, nil
	}
	msg := fmt.Sprintf("card_last_four '%s' is not exactly 4 digits", formatValue(card))
	return []domain.Finding{r.newWarning(msg, "card_last_four", 0.05)}, nil
}
