package report

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zombor/bill-ledger/internal/ledger"
)

// Output file names inside the reports directory
const (
	MarkdownFile = "spending_report.md"
	ChartFile    = "monthly_spend.png"
	WorkbookFile = "spending_report.xlsx"
)

// Artifacts lists what a report run produced. Empty paths were not written.
type Artifacts struct {
	Snapshot *Snapshot `json:"snapshot"`
	Markdown string    `json:"markdown"`
	Chart    string    `json:"chart,omitempty"`
	Workbook string    `json:"workbook,omitempty"`
}

// Generate reads the store and writes the report files into dir.
// It never touches the store.
func Generate(store *ledger.Store, dir string) (*Artifacts, error) {
	snap, err := Build(store)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating reports directory: %w", err)
	}

	artifacts := &Artifacts{Snapshot: snap}
	chartPath := filepath.Join(dir, ChartFile)
	workbookPath := filepath.Join(dir, WorkbookFile)

	if snap.HasData {
		var buf bytes.Buffer
		err := RenderChart(&buf, snap.Currency, snap.Monthly)
		switch {
		case errors.Is(err, ErrNotEnoughData):
			slog.Info("Not enough data to generate monthly spend chart", "months", len(snap.Monthly))
			if err := removeStale(chartPath); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			if err := os.WriteFile(chartPath, buf.Bytes(), 0644); err != nil {
				return nil, fmt.Errorf("writing chart: %w", err)
			}
			artifacts.Chart = chartPath
		}

		if err := WriteWorkbook(workbookPath, snap); err != nil {
			return nil, err
		}
		artifacts.Workbook = workbookPath
	} else {
		for _, path := range []string{chartPath, workbookPath} {
			if err := removeStale(path); err != nil {
				return nil, err
			}
		}
	}

	var doc bytes.Buffer
	chartRef := ""
	if artifacts.Chart != "" {
		chartRef = ChartFile
	}
	if err := RenderMarkdown(&doc, snap, chartRef); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	markdownPath := filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(markdownPath, doc.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("writing report: %w", err)
	}
	artifacts.Markdown = markdownPath

	slog.Info("Wrote report",
		"path", markdownPath,
		"has_data", snap.HasData,
		"currency", snap.Currency,
		"months", len(snap.Monthly),
	)
	return artifacts, nil
}

// removeStale deletes an artifact from an earlier run; a missing file is fine
func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale %s: %w", filepath.Base(path), err)
	}
	return nil
}
