package scanning

import (
	"context"

	"github.com/zombor/bill-ledger/internal/record"
)

// Extractor turns one scanned bill into a Record. The returned record is not
// validated and has no source filename; both are the caller's job.
type Extractor interface {
	// Extract analyzes a bill image or PDF
	Extract(ctx context.Context, data []byte, contentType string) (*record.Record, error)
	// Close releases the extractor's resources
	Close() error
}

// billPrompt is shared by every provider
const billPrompt = `You are analyzing a scanned bill, invoice or receipt. Read all of the text in the image and extract the fields below.

Return ONLY one JSON object in this exact shape:
{
  "doc_type": "invoice | receipt | credit_note | utility_bill | other",
  "doc_number": "the document or invoice number",
  "issue_date": "YYYY-MM-DD",
  "currency": "three-letter ISO 4217 code, e.g. EUR or USD",
  "issuer_name": "the business that issued the document",
  "issuer_tax_id": "the issuer's VAT or tax id",
  "issuer_address": "string or null",
  "customer_name": "string or null",
  "customer_tax_id": "string or null",
  "subtotal_amount": 0.00,
  "tax_amount": 0.00,
  "total_amount": 0.00,
  "description": "short summary of what was bought, or null",
  "quantity": null
}

Rules:
- Amounts are numbers, not strings, without currency symbols
- Use null for any field you cannot find
- Do not include any text before or after the JSON`
