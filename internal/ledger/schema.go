package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// FieldColumn is the schema definition column holding field names
const FieldColumn = "Field"

// ResolveColumns returns the canonical column order from a schema definition table.
// The first row is the header. Blank field entries are skipped; duplicates are kept.
func ResolveColumns(rows [][]string) ([]string, error) {
	if len(rows) == 0 {
		return nil, &SchemaError{Err: errors.New("no header row")}
	}

	header := rows[0]
	col := indexOf(header, FieldColumn)
	if col == -1 {
		return nil, &SchemaError{Err: fmt.Errorf("missing %s column; got headers=%v", FieldColumn, header)}
	}

	columns := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		name := strings.TrimSpace(row[col])
		if name == "" {
			continue
		}
		columns = append(columns, name)
	}
	if len(columns) == 0 {
		return nil, &SchemaError{Err: errors.New("no fields defined")}
	}
	return columns, nil
}

// LoadColumnOrder reads a schema definition from a CSV file or an .xlsx workbook
func LoadColumnOrder(path string) ([]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbookRows(path)
	default:
		rows, err = readCSVRows(path)
	}
	if err != nil {
		return nil, &SchemaError{Path: path, Err: err}
	}

	columns, err := ResolveColumns(rows)
	if err != nil {
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			schemaErr.Path = path
		}
		return nil, err
	}
	return columns, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readWorkbookRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}
