package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook sheet names
const (
	SheetOverview = "Overview"
	SheetMonthly  = "Monthly"
	SheetVendors  = "Vendors"
	SheetRecords  = "Records"
)

// WriteWorkbook writes the snapshot as an xlsx workbook with one sheet per report section
func WriteWorkbook(path string, snap *Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetOverview); err != nil {
		return fmt.Errorf("naming overview sheet: %w", err)
	}
	for _, name := range []string{SheetMonthly, SheetVendors, SheetRecords} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	overview := [][]interface{}{
		{"Field", "Value"},
		{"Currency", snap.Currency},
		{"Period start", snap.Start.String()},
		{"Period end", snap.End.String()},
		{"Records", len(snap.Entries)},
		{"Total spend", snap.Total.InexactFloat64()},
		{"Average monthly spend", snap.AverageMonthly.InexactFloat64()},
		{"Excluded currencies", strings.Join(snap.Excluded, ", ")},
		{"Dropped rows", snap.Dropped},
	}
	if err := writeRows(f, SheetOverview, overview); err != nil {
		return err
	}

	monthly := [][]interface{}{{"Month", "Total"}}
	for _, m := range snap.Monthly {
		monthly = append(monthly, []interface{}{m.Month.String(), m.Total.InexactFloat64()})
	}
	if err := writeRows(f, SheetMonthly, monthly); err != nil {
		return err
	}

	vendors := [][]interface{}{{"Issuer", "Total"}}
	for _, v := range snap.TopVendors {
		vendors = append(vendors, []interface{}{v.IssuerName, v.Total.InexactFloat64()})
	}
	if err := writeRows(f, SheetVendors, vendors); err != nil {
		return err
	}

	records := [][]interface{}{{"Doc number", "Issuer", "Issue date", "Total"}}
	for _, r := range snap.Largest {
		records = append(records, []interface{}{r.DocNumber, r.IssuerName, r.IssueDate.String(), r.Total.InexactFloat64()})
	}
	if err := writeRows(f, SheetRecords, records); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
