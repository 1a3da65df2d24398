package report

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-ledger/internal/ledger"
	"github.com/zombor/bill-ledger/internal/record"
)

const (
	topVendorCount = 5
	largestCount   = 5
)

// dateLayouts are tried in order when reading issue_date cells
var dateLayouts = []string{
	record.DateLayout,
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// ParseError means a stored row had an unreadable date or amount.
// The row is dropped from the analytics.
type ParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: parsing %s %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CleanRow is a store row with a parsed date and amount
type CleanRow struct {
	DocNumber  string
	IssuerName string
	Currency   string
	IssueDate  time.Time
	Total      decimal.Decimal
}

// Month is a calendar month
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Time returns the first instant of the month in UTC
func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type MonthTotal struct {
	Month Month           `json:"month"`
	Total decimal.Decimal `json:"total_amount"`
}

type VendorTotal struct {
	IssuerName string          `json:"issuer_name"`
	Total      decimal.Decimal `json:"total_amount"`
}

// RecordSummary is one of the largest individual records
type RecordSummary struct {
	DocNumber  string          `json:"doc_number"`
	IssuerName string          `json:"issuer_name"`
	IssueDate  record.Date     `json:"issue_date"`
	Total      decimal.Decimal `json:"total_amount"`
}

// Snapshot holds the statistics computed from the store on a single run
type Snapshot struct {
	HasData       bool     `json:"has_data"`
	Currency      string   `json:"currency,omitempty"`
	Currencies    []string `json:"currencies"`
	Excluded      []string `json:"excluded_currencies,omitempty"`
	MultiCurrency bool     `json:"multi_currency"`
	Dropped       int      `json:"dropped_rows"`

	Entries []CleanRow `json:"-"`

	Start          record.Date     `json:"start_date"`
	End            record.Date     `json:"end_date"`
	Total          decimal.Decimal `json:"total_spend"`
	Monthly        []MonthTotal    `json:"monthly"`
	AverageMonthly decimal.Decimal `json:"average_monthly_spend"`
	Peak           *MonthTotal     `json:"max_month,omitempty"`
	Trough         *MonthTotal     `json:"min_month,omitempty"`
	TopVendors     []VendorTotal   `json:"top_vendors"`
	Largest        []RecordSummary `json:"largest_records"`
}

// Build reads the store and summarizes it. A missing or empty store yields a
// snapshot without data.
func Build(store *ledger.Store) (*Snapshot, error) {
	rows, err := store.ReadRows()
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}

	entries, parseErrs := Clean(rows)
	for _, perr := range parseErrs {
		slog.Debug("Dropping unparseable row", "error", perr)
	}
	if len(parseErrs) > 0 {
		slog.Warn("Dropped rows with invalid dates or amounts", "count", len(parseErrs))
	}

	snap := Summarize(entries)
	snap.Dropped = len(parseErrs)
	return snap, nil
}

// Clean parses issue_date and total_amount for each row, dropping rows where either fails
func Clean(rows []map[string]string) ([]CleanRow, []*ParseError) {
	entries := make([]CleanRow, 0, len(rows))
	var errs []*ParseError
	for i, row := range rows {
		rawDate := row[record.ColumnIssueDate]
		issued, err := parseDate(rawDate)
		if err != nil {
			errs = append(errs, &ParseError{Row: i + 1, Column: record.ColumnIssueDate, Value: rawDate, Err: err})
			continue
		}

		rawTotal := row[record.ColumnTotalAmount]
		total, err := decimal.NewFromString(strings.TrimSpace(rawTotal))
		if err != nil {
			errs = append(errs, &ParseError{Row: i + 1, Column: record.ColumnTotalAmount, Value: rawTotal, Err: err})
			continue
		}

		entries = append(entries, CleanRow{
			DocNumber:  strings.TrimSpace(row[record.ColumnDocNumber]),
			IssuerName: strings.TrimSpace(row[record.ColumnIssuerName]),
			Currency:   strings.TrimSpace(row[record.ColumnCurrency]),
			IssueDate:  issued,
			Total:      total,
		})
	}
	return entries, errs
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		t, err = time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, err
}

// Summarize computes the snapshot over cleaned entries
func Summarize(entries []CleanRow) *Snapshot {
	snap := &Snapshot{Currencies: []string{}}

	currency, counts := selectCurrency(entries)
	for c := range counts {
		snap.Currencies = append(snap.Currencies, c)
	}
	sort.Strings(snap.Currencies)
	if currency == "" {
		return snap
	}

	snap.Currency = currency
	retained := entries
	if len(snap.Currencies) > 1 {
		snap.MultiCurrency = true
		retained = make([]CleanRow, 0, counts[currency])
		for _, e := range entries {
			if e.Currency == currency {
				retained = append(retained, e)
			}
		}
		for _, c := range snap.Currencies {
			if c != currency {
				snap.Excluded = append(snap.Excluded, c)
			}
		}
	}
	snap.Entries = retained
	snap.HasData = len(retained) > 0
	if !snap.HasData {
		return snap
	}

	start, end := retained[0].IssueDate, retained[0].IssueDate
	total := decimal.Zero
	for _, e := range retained {
		if e.IssueDate.Before(start) {
			start = e.IssueDate
		}
		if e.IssueDate.After(end) {
			end = e.IssueDate
		}
		total = total.Add(e.Total)
	}
	snap.Start = record.Date{Time: start}
	snap.End = record.Date{Time: end}
	snap.Total = total

	snap.Monthly = MonthlyTotals(retained)
	monthSum := decimal.Zero
	for _, m := range snap.Monthly {
		monthSum = monthSum.Add(m.Total)
	}
	snap.AverageMonthly = monthSum.Div(decimal.NewFromInt(int64(len(snap.Monthly))))
	snap.Peak, snap.Trough = peakAndTrough(snap.Monthly)

	snap.TopVendors = topVendors(retained, topVendorCount)
	snap.Largest = largestRecords(retained, largestCount)
	return snap
}

// selectCurrency returns the most frequent non-blank currency, breaking ties
// by sorted order, along with per-currency counts
func selectCurrency(entries []CleanRow) (string, map[string]int) {
	counts := make(map[string]int)
	for _, e := range entries {
		if e.Currency != "" {
			counts[e.Currency]++
		}
	}

	codes := make([]string, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	var best string
	for _, c := range codes {
		if best == "" || counts[c] > counts[best] {
			best = c
		}
	}
	return best, counts
}

// MonthlyTotals sums entries per calendar month in chronological order
func MonthlyTotals(entries []CleanRow) []MonthTotal {
	sums := make(map[Month]decimal.Decimal)
	for _, e := range entries {
		m := MonthOf(e.IssueDate)
		sums[m] = sums[m].Add(e.Total)
	}

	monthly := make([]MonthTotal, 0, len(sums))
	for m, sum := range sums {
		monthly = append(monthly, MonthTotal{Month: m, Total: sum})
	}
	sort.Slice(monthly, func(i, j int) bool {
		return monthly[i].Month.Before(monthly[j].Month)
	})
	return monthly
}

func peakAndTrough(monthly []MonthTotal) (*MonthTotal, *MonthTotal) {
	if len(monthly) == 0 {
		return nil, nil
	}
	peak, trough := monthly[0], monthly[0]
	for _, m := range monthly[1:] {
		if m.Total.GreaterThan(peak.Total) {
			peak = m
		}
		if m.Total.LessThan(trough.Total) {
			trough = m
		}
	}
	return &peak, &trough
}

func topVendors(entries []CleanRow, n int) []VendorTotal {
	sums := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if e.IssuerName == "" {
			continue
		}
		sums[e.IssuerName] = sums[e.IssuerName].Add(e.Total)
	}

	vendors := make([]VendorTotal, 0, len(sums))
	for name, sum := range sums {
		vendors = append(vendors, VendorTotal{IssuerName: name, Total: sum})
	}
	sort.Slice(vendors, func(i, j int) bool {
		return vendors[i].IssuerName < vendors[j].IssuerName
	})
	sort.SliceStable(vendors, func(i, j int) bool {
		return vendors[i].Total.GreaterThan(vendors[j].Total)
	})

	if len(vendors) > n {
		vendors = vendors[:n]
	}
	return vendors
}

func largestRecords(entries []CleanRow, n int) []RecordSummary {
	sorted := make([]CleanRow, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Total.GreaterThan(sorted[j].Total)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	largest := make([]RecordSummary, 0, len(sorted))
	for _, e := range sorted {
		largest = append(largest, RecordSummary{
			DocNumber:  e.DocNumber,
			IssuerName: e.IssuerName,
			IssueDate:  record.Date{Time: e.IssueDate},
			Total:      e.Total,
		})
	}
	return largest
}
