package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/bill-ledger/internal/ledger"
	"github.com/zombor/bill-ledger/internal/record"
	"github.com/zombor/bill-ledger/internal/report"
	"github.com/zombor/bill-ledger/internal/scanning"
)

// ErrAlreadyIngested is returned when an upload reuses the name of an extracted bill
var ErrAlreadyIngested = errors.New("bill already ingested")

// IDGenerator generates unique run IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the paths and limits the service needs
type Config struct {
	SchemaPath  string
	ReportsDir  string
	Concurrency int
}

// Service runs bills from the inbox through extraction into the store
type Service struct {
	archive     Archive
	extractor   scanning.Extractor
	storage     Storage
	store       *ledger.Store
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource

	// mu serializes merges and report runs against the store
	mu sync.Mutex
}

// NewService creates a Service with uuid run IDs and the wall clock
func NewService(archive Archive, extractor scanning.Extractor, storage Storage, store *ledger.Store, cfg Config) *Service {
	return NewServiceWithDeps(archive, extractor, storage, store, cfg, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(archive Archive, extractor scanning.Extractor, storage Storage, store *ledger.Store, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Service{
		archive:     archive,
		extractor:   extractor,
		storage:     storage,
		store:       store,
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_ ")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bill"
	}
	return base + ext
}

func (s *Service) newRun(kind string) *Run {
	return &Run{
		ID:        s.idGenerator.Generate(),
		Kind:      kind,
		StartedAt: s.timeSource.Now(),
	}
}

func (s *Service) finishRun(run *Run) {
	run.FinishedAt = s.timeSource.Now()
	if err := s.archive.SaveRun(run); err != nil {
		slog.Warn("Failed to save run", "id", run.ID, "error", err)
	}
}

// merge resolves the column order and merges candidates into the store.
// Callers must hold s.mu.
func (s *Service) merge(candidates []*record.Record) (ledger.MergeResult, error) {
	if len(candidates) == 0 {
		return ledger.MergeResult{}, nil
	}
	columns, err := ledger.LoadColumnOrder(s.cfg.SchemaPath)
	if err != nil {
		return ledger.MergeResult{}, err
	}
	return s.store.Merge(candidates, columns)
}

// Ingest extracts up to limit inbox files that are neither archived nor stored,
// archives each extraction and merges the batch. limit <= 0 means no limit.
// Extraction failures are recorded on the run and do not stop the batch.
func (s *Service) Ingest(ctx context.Context, limit int) (*Run, error) {
	run := s.newRun(RunIngest)

	names, err := s.storage.List()
	if err != nil {
		return nil, fmt.Errorf("listing inbox: %w", err)
	}
	stored, err := s.store.LoadExistingKeys()
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range names {
		if _, ok := stored[name]; ok {
			continue
		}
		archived, err := s.archive.HasBill(name)
		if err != nil {
			return nil, fmt.Errorf("checking archive: %w", err)
		}
		if archived {
			continue
		}
		pending = append(pending, name)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	run.Files = len(pending)
	slog.Info("Ingesting bills", "pending", len(pending), "inbox", len(names))

	// Results are indexed by inbox position so the merge keeps file order
	bills := make([]*Bill, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, name := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bill, err := s.extract(gctx, name)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Error("Failed to extract bill", "filename", name, "error", err)
				return nil
			}
			bills[i] = bill
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting bills: %w", err)
	}

	candidates := make([]*record.Record, 0, len(bills))
	for i, bill := range bills {
		if bill == nil {
			run.Failed = append(run.Failed, pending[i])
			continue
		}
		if err := s.archive.SaveBill(bill); err != nil {
			return nil, fmt.Errorf("archiving bill %s: %w", bill.SourceFilename, err)
		}
		candidates = append(candidates, bill.Record)
	}
	run.Extracted = len(candidates)

	s.mu.Lock()
	defer s.mu.Unlock()
	run.Merge, err = s.merge(candidates)
	if err != nil {
		return nil, err
	}

	s.finishRun(run)
	slog.Info("Ingest finished",
		"run", run.ID,
		"extracted", run.Extracted,
		"failed", len(run.Failed),
		"accepted", run.Merge.Accepted,
		"skipped", run.Merge.Skipped,
	)
	return run, nil
}

func (s *Service) extract(ctx context.Context, name string) (*Bill, error) {
	data, err := s.storage.Get(name)
	if err != nil {
		return nil, err
	}
	contentType := scanning.ContentTypeForName(name)

	rec, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", name, err)
	}
	rec.SetSource(name)

	return &Bill{
		SourceFilename: name,
		ContentType:    contentType,
		Record:         rec,
		ExtractedAt:    s.timeSource.Now(),
	}, nil
}

// Consolidate replays every archived bill into the store. Bills already
// stored are skipped by the merge, so it is safe to run repeatedly.
func (s *Service) Consolidate(ctx context.Context) (*Run, error) {
	run := s.newRun(RunConsolidate)

	bills, err := s.archive.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing archived bills: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]*record.Record, 0, len(bills))
	for _, bill := range bills {
		if bill.Record == nil {
			continue
		}
		if bill.Record.Source() == "" {
			bill.Record.SetSource(bill.SourceFilename)
		}
		candidates = append(candidates, bill.Record)
	}
	run.Files = len(bills)
	run.Extracted = len(candidates)

	s.mu.Lock()
	defer s.mu.Unlock()
	run.Merge, err = s.merge(candidates)
	if err != nil {
		return nil, err
	}

	s.finishRun(run)
	slog.Info("Consolidate finished",
		"run", run.ID,
		"archived", len(bills),
		"accepted", run.Merge.Accepted,
		"skipped", run.Merge.Skipped,
	)
	return run, nil
}

// UploadResult is the outcome of a single upload
type UploadResult struct {
	Bill  *Bill              `json:"bill"`
	Merge ledger.MergeResult `json:"merge"`
	RunID string             `json:"run_id"`
}

// Upload saves a file to the inbox, extracts it and merges the record
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType string) (*UploadResult, error) {
	run := s.newRun(RunUpload)
	name := sanitizeFilename(filename)

	archived, err := s.archive.HasBill(name)
	if err != nil {
		return nil, fmt.Errorf("checking archive: %w", err)
	}
	if archived {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyIngested)
	}

	savedName, err := s.storage.Save(name, data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	run.Files = 1

	if contentType == "" {
		contentType = scanning.ContentTypeForName(savedName)
	}
	rec, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to extract bill",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(savedName); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedName, "error", delErr)
		}
		return nil, fmt.Errorf("extracting bill: %w", err)
	}
	rec.SetSource(savedName)

	bill := &Bill{
		SourceFilename: savedName,
		ContentType:    contentType,
		Record:         rec,
		ExtractedAt:    s.timeSource.Now(),
	}
	if err := s.archive.SaveBill(bill); err != nil {
		if delErr := s.storage.Delete(savedName); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedName, "error", delErr)
		}
		return nil, fmt.Errorf("archiving bill: %w", err)
	}
	run.Extracted = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.merge([]*record.Record{rec})
	if err != nil {
		return nil, err
	}
	run.Merge = result
	s.finishRun(run)

	return &UploadResult{Bill: bill, Merge: result, RunID: run.ID}, nil
}

// Report regenerates the report files
func (s *Service) Report() (*report.Artifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return report.Generate(s.store, s.cfg.ReportsDir)
}

// Snapshot computes the current statistics without writing anything
func (s *Service) Snapshot() (*report.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return report.Build(s.store)
}

// ReportFile returns a generated report file, regenerating the report first
func (s *Service) ReportFile(name string) ([]byte, error) {
	if name != report.MarkdownFile && name != report.ChartFile {
		return nil, fmt.Errorf("report file %s: %w", name, ErrNotFound)
	}
	if _, err := s.Report(); err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(s.cfg.ReportsDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("report file %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading report file: %w", err)
	}
	return data, nil
}

// GetBill retrieves an archived bill
func (s *Service) GetBill(source string) (*Bill, error) {
	bill, err := s.archive.GetBill(source)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return bill, nil
}

// ListBills returns every archived bill
func (s *Service) ListBills() ([]*Bill, error) {
	bills, err := s.archive.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return bills, nil
}

// ListRuns returns run history, newest first
func (s *Service) ListRuns() ([]*Run, error) {
	runs, err := s.archive.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// ListRecords returns the consolidated store rows
func (s *Service) ListRecords() ([]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.store.ReadRows()
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}
	return rows, nil
}
