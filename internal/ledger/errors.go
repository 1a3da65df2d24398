package ledger

import "fmt"

// SchemaError means the column order could not be resolved. It is fatal to the run.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema definition: %v", e.Err)
	}
	return fmt.Sprintf("schema definition %s: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// StoreAccessError means the store file could not be read or written
type StoreAccessError struct {
	Path string
	Op   string
	Err  error
}

func (e *StoreAccessError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreAccessError) Unwrap() error {
	return e.Err
}
