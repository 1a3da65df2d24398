package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date form used in JSON and in the store
const DateLayout = "2006-01-02"

// DocType is the kind of document a record was extracted from
type DocType string

const (
	DocTypeInvoice     DocType = "invoice"
	DocTypeReceipt     DocType = "receipt"
	DocTypeCreditNote  DocType = "credit_note"
	DocTypeUtilityBill DocType = "utility_bill"
	DocTypeOther       DocType = "other"
)

// Column names, matching the JSON field names
const (
	ColumnDocType        = "doc_type"
	ColumnDocNumber      = "doc_number"
	ColumnIssueDate      = "issue_date"
	ColumnCurrency       = "currency"
	ColumnIssuerName     = "issuer_name"
	ColumnIssuerTaxID    = "issuer_tax_id"
	ColumnIssuerAddress  = "issuer_address"
	ColumnCustomerName   = "customer_name"
	ColumnCustomerTaxID  = "customer_tax_id"
	ColumnSubtotalAmount = "subtotal_amount"
	ColumnTaxAmount      = "tax_amount"
	ColumnTotalAmount    = "total_amount"
	ColumnDescription    = "description"
	ColumnQuantity       = "quantity"
	ColumnSourceFilename = "source_filename"
)

// Date is a calendar date without time of day
type Date struct {
	time.Time
}

// NewDate returns the date for the given year, month and day in UTC
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// String returns the date as YYYY-MM-DD, or "" for the zero date
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding date: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// Record is one structured bill extracted from a source document.
// Pointer fields are optional; nil means absent.
type Record struct {
	DocType        DocType          `json:"doc_type" validate:"required,oneof=invoice receipt credit_note utility_bill other"`
	DocNumber      string           `json:"doc_number" validate:"required"`
	IssueDate      Date             `json:"issue_date"`
	Currency       string           `json:"currency" validate:"required,len=3,alpha,uppercase"`
	IssuerName     string           `json:"issuer_name" validate:"required"`
	IssuerTaxID    string           `json:"issuer_tax_id" validate:"required"`
	IssuerAddress  *string          `json:"issuer_address"`
	CustomerName   *string          `json:"customer_name"`
	CustomerTaxID  *string          `json:"customer_tax_id"`
	SubtotalAmount *decimal.Decimal `json:"subtotal_amount" validate:"required"`
	TaxAmount      *decimal.Decimal `json:"tax_amount"`
	TotalAmount    *decimal.Decimal `json:"total_amount" validate:"required"`
	Description    *string          `json:"description"`
	Quantity       *decimal.Decimal `json:"quantity"`
	SourceFilename *string          `json:"source_filename"`
}

// Source returns the source filename, or "" when it is not set
func (r *Record) Source() string {
	if r == nil || r.SourceFilename == nil {
		return ""
	}
	return *r.SourceFilename
}

// SetSource sets the source filename
func (r *Record) SetSource(filename string) {
	r.SourceFilename = &filename
}

// Value returns the canonical string form of the named field.
// Absent, nil and unknown fields render as "".
func (r *Record) Value(column string) string {
	switch column {
	case ColumnDocType:
		return string(r.DocType)
	case ColumnDocNumber:
		return r.DocNumber
	case ColumnIssueDate:
		return r.IssueDate.String()
	case ColumnCurrency:
		return r.Currency
	case ColumnIssuerName:
		return r.IssuerName
	case ColumnIssuerTaxID:
		return r.IssuerTaxID
	case ColumnIssuerAddress:
		return stringValue(r.IssuerAddress)
	case ColumnCustomerName:
		return stringValue(r.CustomerName)
	case ColumnCustomerTaxID:
		return stringValue(r.CustomerTaxID)
	case ColumnSubtotalAmount:
		return decimalValue(r.SubtotalAmount)
	case ColumnTaxAmount:
		return decimalValue(r.TaxAmount)
	case ColumnTotalAmount:
		return decimalValue(r.TotalAmount)
	case ColumnDescription:
		return stringValue(r.Description)
	case ColumnQuantity:
		return decimalValue(r.Quantity)
	case ColumnSourceFilename:
		return stringValue(r.SourceFilename)
	}
	return ""
}

// Project renders the record onto the given column order
func (r *Record) Project(columns []string) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = r.Value(col)
	}
	return row
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalValue(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
