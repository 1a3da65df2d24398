package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Placeholder is written instead of the full report when the store holds no usable data
const Placeholder = "# Spending Report\n\nNot enough valid data in the database to generate a report yet.\n"

// RenderMarkdown writes the spending report. chartFile is the chart path relative
// to the report, or "" when no chart was drawn.
func RenderMarkdown(w io.Writer, snap *Snapshot, chartFile string) error {
	if snap == nil || !snap.HasData {
		_, err := io.WriteString(w, Placeholder)
		return err
	}

	var b bytes.Buffer
	cur := snap.Currency

	b.WriteString("# Spending Report\n\n")

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- **Period**: %s to %s\n", snap.Start, snap.End)
	fmt.Fprintf(&b, "- **Records**: %d\n", len(snap.Entries))
	fmt.Fprintf(&b, "- **Total spend**: %s\n", money(snap.Total, cur))
	fmt.Fprintf(&b, "- **Average monthly spend**: %s\n", money(snap.AverageMonthly, cur))
	fmt.Fprintf(&b, "- All amounts below are shown in **%s**.", cur)
	if snap.MultiCurrency {
		fmt.Fprintf(&b, " The store contains several currencies (%s); only the most common one is reported. Excluded: %s.",
			strings.Join(snap.Currencies, ", "), strings.Join(snap.Excluded, ", "))
	}
	b.WriteString("\n")
	if snap.Dropped > 0 {
		fmt.Fprintf(&b, "- %d rows were skipped because of an invalid date or amount.\n", snap.Dropped)
	}
	b.WriteString("\n")

	b.WriteString("## Monthly Trend\n\n")
	if snap.Peak != nil && snap.Trough != nil {
		fmt.Fprintf(&b, "- **Highest month**: %s with %s\n", snap.Peak.Month, money(snap.Peak.Total, cur))
		fmt.Fprintf(&b, "- **Lowest month**: %s with %s\n", snap.Trough.Month, money(snap.Trough.Total, cur))
	}
	if len(snap.Monthly) < 2 {
		b.WriteString("- Not enough data to plot a monthly trend (fewer than two months).\n")
	}
	if chartFile != "" {
		fmt.Fprintf(&b, "\n![Monthly Spend](%s)\n", chartFile)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "| Month | Total (%s) |\n", cur)
	b.WriteString("|---|---:|\n")
	for _, m := range snap.Monthly {
		fmt.Fprintf(&b, "| %s | %s |\n", m.Month, m.Total.StringFixed(2))
	}
	b.WriteString("\n")

	b.WriteString("## Top Vendors\n\n")
	if len(snap.TopVendors) == 0 {
		b.WriteString("No vendor information available.\n")
	}
	for _, v := range snap.TopVendors {
		fmt.Fprintf(&b, "- **%s**: %s\n", v.IssuerName, money(v.Total, cur))
	}
	b.WriteString("\n")

	b.WriteString("## Biggest Records\n\n")
	if len(snap.Largest) == 0 {
		b.WriteString("No record information available.\n")
	}
	for _, r := range snap.Largest {
		var parts []string
		if r.DocNumber != "" {
			parts = append(parts, "**"+r.DocNumber+"**")
		}
		if r.IssuerName != "" {
			parts = append(parts, "from "+r.IssuerName)
		}
		if !r.IssueDate.IsZero() {
			parts = append(parts, "on "+r.IssueDate.String())
		}
		parts = append(parts, "amount: "+money(r.Total, cur))
		fmt.Fprintf(&b, "- %s\n", strings.Join(parts, ", "))
	}

	_, err := w.Write(b.Bytes())
	return err
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}
