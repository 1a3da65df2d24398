package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	billsBucketName = "bills"
	runsBucketName  = "runs"
)

// ErrNotFound is returned when an archived bill or run does not exist
var ErrNotFound = errors.New("not found")

// Archive stores extracted bills and run history
type Archive interface {
	// SaveBill stores a bill under its source filename, replacing any earlier extraction
	SaveBill(bill *Bill) error

	// GetBill retrieves a bill by source filename
	GetBill(source string) (*Bill, error)

	// HasBill reports whether a source filename was already extracted
	HasBill(source string) (bool, error)

	// ListBills returns every bill ordered by source filename
	ListBills() ([]*Bill, error)

	// SaveRun stores a run
	SaveRun(run *Run) error

	// ListRuns returns every run
	ListRuns() ([]*Run, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements Archive with bbolt
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the archive at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{billsBucketName, runsBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveBill(bill *Bill) error {
	if bill.SourceFilename == "" {
		return errors.New("bill has no source filename")
	}
	return b.put(billsBucketName, bill.SourceFilename, bill)
}

func (b *BoltDB) GetBill(source string) (*Bill, error) {
	var bill *Bill
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(billsBucketName)).Get([]byte(source))
		if data == nil {
			return fmt.Errorf("bill %s: %w", source, ErrNotFound)
		}
		return json.Unmarshal(data, &bill)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (b *BoltDB) HasBill(source string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(billsBucketName)).Get([]byte(source)) != nil
		return nil
	})
	return found, err
}

func (b *BoltDB) ListBills() ([]*Bill, error) {
	bills := make([]*Bill, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billsBucketName)).ForEach(func(k, v []byte) error {
			var bill Bill
			if err := json.Unmarshal(v, &bill); err != nil {
				return fmt.Errorf("unmarshaling bill %s: %w", k, err)
			}
			bills = append(bills, &bill)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return bills, nil
}

func (b *BoltDB) SaveRun(run *Run) error {
	return b.put(runsBucketName, run.ID, run)
}

func (b *BoltDB) ListRuns() ([]*Run, error) {
	runs := make([]*Run, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucketName)).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run %s: %w", k, err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (b *BoltDB) put(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s entry: %w", bucket, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
