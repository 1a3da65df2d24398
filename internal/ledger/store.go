package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/zombor/bill-ledger/internal/record"
)

// Store is the append-only CSV table of consolidated records.
// It assumes exclusive access for the duration of a merge.
type Store struct {
	path string
}

// MergeResult counts what happened to a batch of candidates
type MergeResult struct {
	Accepted   int                       `json:"accepted"`
	Skipped    int                       `json:"skipped"`
	Duplicates int                       `json:"duplicates"`
	Invalid    []*record.ValidationError `json:"invalid,omitempty"`
}

// NewStore returns a Store backed by the CSV file at path. The file is created on first merge.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the store file path
func (s *Store) Path() string {
	return s.path
}

// snapshot is the parsed content of the store file
type snapshot struct {
	exists bool
	header []string
	rows   [][]string
}

func (s *Store) read() (*snapshot, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &snapshot{}, nil
	}
	if err != nil {
		return nil, &StoreAccessError{Path: s.path, Op: "opening", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	// Hand-edited stores often carry a bare quote inside a field (Joe's "Bar)
	r.LazyQuotes = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		// Empty file: treated as a store without a header yet
		return &snapshot{}, nil
	}
	if err != nil {
		return nil, &StoreAccessError{Path: s.path, Op: "reading", Err: err}
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	rows, err := r.ReadAll()
	if err != nil {
		return nil, &StoreAccessError{Path: s.path, Op: "reading", Err: err}
	}
	return &snapshot{exists: true, header: header, rows: rows}, nil
}

// LoadExistingKeys returns the source_filename values already in the store.
// A missing store yields an empty set.
func (s *Store) LoadExistingKeys() (map[string]struct{}, error) {
	snap, err := s.read()
	if err != nil {
		return nil, err
	}
	return snap.keys(), nil
}

func (snap *snapshot) keys() map[string]struct{} {
	keys := make(map[string]struct{})
	col := slices.Index(snap.header, record.ColumnSourceFilename)
	if col == -1 {
		return keys
	}
	for _, row := range snap.rows {
		if col < len(row) && row[col] != "" {
			keys[row[col]] = struct{}{}
		}
	}
	return keys
}

// Header returns the store header, or nil if the store does not exist yet
func (s *Store) Header() ([]string, error) {
	snap, err := s.read()
	if err != nil {
		return nil, err
	}
	return snap.header, nil
}

// ReadRows returns every stored row keyed by header name. A missing store yields no rows.
func (s *Store) ReadRows() ([]map[string]string, error) {
	snap, err := s.read()
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(snap.rows))
	for _, values := range snap.rows {
		row := make(map[string]string, len(snap.header))
		for i, name := range snap.header {
			if i < len(values) {
				row[name] = values[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Merge appends valid candidates whose source_filename is not already stored.
// Invalid candidates are logged and skipped; they never abort the batch.
// Running Merge twice with the same candidates adds nothing the second time.
func (s *Store) Merge(candidates []*record.Record, columns []string) (MergeResult, error) {
	var result MergeResult
	if len(candidates) == 0 {
		return result, nil
	}
	if len(columns) == 0 {
		return result, &SchemaError{Err: errors.New("empty column order")}
	}

	snap, err := s.read()
	if err != nil {
		return result, err
	}
	if snap.exists && !slices.Equal(snap.header, columns) {
		return result, &SchemaError{
			Err: fmt.Errorf("store %s header %v does not match column order %v; start a fresh store to change the schema", s.path, snap.header, columns),
		}
	}

	existing := snap.keys()
	var queued [][]string
	for _, candidate := range candidates {
		validation := record.Validate(candidate)
		if !validation.OK() {
			var verr *record.ValidationError
			errors.As(validation.Err(), &verr)
			slog.Warn("Skipping invalid record",
				"source_filename", verr.SourceFilename,
				"reasons", verr.Reasons,
			)
			result.Invalid = append(result.Invalid, verr)
			result.Skipped++
			continue
		}

		source := candidate.Source()
		if source != "" {
			if _, ok := existing[source]; ok {
				slog.Debug("Skipping duplicate record", "source_filename", source)
				result.Duplicates++
				result.Skipped++
				continue
			}
			existing[source] = struct{}{}
		}

		queued = append(queued, candidate.Project(columns))
		result.Accepted++
	}

	if len(queued) == 0 {
		return result, nil
	}
	if err := s.append(queued, columns, !snap.exists); err != nil {
		return MergeResult{}, err
	}

	slog.Info("Merged records",
		"path", s.path,
		"accepted", result.Accepted,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (s *Store) append(rows [][]string, columns []string, writeHeader bool) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return &StoreAccessError{Path: s.path, Op: "opening", Err: err}
	}

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(columns); err != nil {
			f.Close()
			return &StoreAccessError{Path: s.path, Op: "writing", Err: err}
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return &StoreAccessError{Path: s.path, Op: "writing", Err: err}
	}
	if err := f.Close(); err != nil {
		return &StoreAccessError{Path: s.path, Op: "closing", Err: err}
	}
	return nil
}
