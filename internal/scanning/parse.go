package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-ledger/internal/record"
)

// Date forms models tend to return instead of YYYY-MM-DD
var dateFormats = []string{
	record.DateLayout,
	"2006/01/02",
	"02/01/2006",
	"02.01.2006",
	"02-01-2006",
	"January 2, 2006",
	"2 January 2006",
	time.RFC3339,
}

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

// rawBill mirrors the model's JSON before normalization
type rawBill struct {
	DocType        string        `json:"doc_type"`
	DocNumber      lenientText   `json:"doc_number"`
	IssueDate      string        `json:"issue_date"`
	Currency       string        `json:"currency"`
	IssuerName     string        `json:"issuer_name"`
	IssuerTaxID    lenientText   `json:"issuer_tax_id"`
	IssuerAddress  *string       `json:"issuer_address"`
	CustomerName   *string       `json:"customer_name"`
	CustomerTaxID  *string       `json:"customer_tax_id"`
	SubtotalAmount lenientAmount `json:"subtotal_amount"`
	TaxAmount      lenientAmount `json:"tax_amount"`
	TotalAmount    lenientAmount `json:"total_amount"`
	Description    *string       `json:"description"`
	Quantity       lenientAmount `json:"quantity"`
}

// lenientAmount accepts numbers, numeric strings with symbols or separators, and null
type lenientAmount struct {
	value *decimal.Decimal
}

func (a *lenientAmount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = cleanAmount(s)
		if raw == "" {
			return nil
		}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parsing amount %s: %w", string(data), err)
	}
	a.value = &d
	return nil
}

// lenientText accepts identifiers that models sometimes emit as bare numbers
type lenientText string

func (t *lenientText) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		return nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = lenientText(s)
	default:
		*t = lenientText(raw)
	}
	return nil
}

func cleanAmount(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		}
		return -1
	}, s)
	if !strings.ContainsAny(s, "0123456789") {
		return ""
	}
	last := strings.LastIndexAny(s, ".,")
	if last == -1 {
		return s
	}

	// The last separator is the decimal point (1,250.00, 1.250,00, 12,50) unless it
	// ends a three-digit group with only the same separator before it (1,250 or 1.250.000)
	head, frac := s[:last], s[last+1:]
	other := ","
	if s[last] == ',' {
		other = "."
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(head)
	if len(frac) == 3 && !strings.Contains(head, other) {
		return digits + frac
	}
	return digits + "." + frac
}

// parseBillJSON parses a model response into a Record. Fields are normalized
// but not validated.
func parseBillJSON(text string) (*record.Record, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var raw rawBill
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return &record.Record{
		DocType:        normalizeDocType(raw.DocType),
		DocNumber:      strings.TrimSpace(string(raw.DocNumber)),
		IssueDate:      normalizeDate(raw.IssueDate),
		Currency:       normalizeCurrency(raw.Currency),
		IssuerName:     strings.TrimSpace(raw.IssuerName),
		IssuerTaxID:    strings.TrimSpace(string(raw.IssuerTaxID)),
		IssuerAddress:  optional(raw.IssuerAddress),
		CustomerName:   optional(raw.CustomerName),
		CustomerTaxID:  optional(raw.CustomerTaxID),
		SubtotalAmount: raw.SubtotalAmount.value,
		TaxAmount:      raw.TaxAmount.value,
		TotalAmount:    raw.TotalAmount.value,
		Description:    optional(raw.Description),
		Quantity:       raw.Quantity.value,
	}, nil
}

func normalizeDocType(s string) record.DocType {
	s = strings.ToLower(strings.TrimSpace(s))
	return record.DocType(strings.NewReplacer(" ", "_", "-", "_").Replace(s))
}

// normalizeDate returns the zero date when nothing matches
func normalizeDate(s string) record.Date {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return record.NewDate(t.Year(), t.Month(), t.Day())
		}
	}
	return record.Date{}
}

func normalizeCurrency(s string) string {
	s = strings.TrimSpace(s)
	if code, ok := currencySymbols[s]; ok {
		return code
	}
	return strings.ToUpper(s)
}

func optional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
