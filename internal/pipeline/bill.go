package pipeline

import (
	"time"

	"github.com/zombor/bill-ledger/internal/ledger"
	"github.com/zombor/bill-ledger/internal/record"
)

// Run kinds
const (
	RunIngest      = "ingest"
	RunConsolidate = "consolidate"
	RunUpload      = "upload"
)

// Bill is an archived extraction of one inbox file
type Bill struct {
	SourceFilename string         `json:"source_filename"`
	ContentType    string         `json:"content_type"`
	Record         *record.Record `json:"record"`
	ExtractedAt    time.Time      `json:"extracted_at"`
}

// Run is one batch pushed through the pipeline
type Run struct {
	ID         string             `json:"id"`
	Kind       string             `json:"kind"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Files      int                `json:"files"`
	Extracted  int                `json:"extracted"`
	Failed     []string           `json:"failed,omitempty"` // inbox files the extractor could not read
	Merge      ledger.MergeResult `json:"merge"`
}
