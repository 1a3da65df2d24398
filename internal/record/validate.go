package record

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names so reasons line up with store columns
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError reports why a record is not eligible for merging
type ValidationError struct {
	SourceFilename string   `json:"source_filename"`
	Reasons        []string `json:"reasons"`
}

func (e *ValidationError) Error() string {
	if e.SourceFilename == "" {
		return fmt.Sprintf("invalid record: %s", strings.Join(e.Reasons, "; "))
	}
	return fmt.Sprintf("invalid record %s: %s", e.SourceFilename, strings.Join(e.Reasons, "; "))
}

// Validation is the outcome of checking a record against the schema.
// A result with no reasons is a success.
type Validation struct {
	Record  *Record
	Reasons []string
}

// OK reports whether the record passed validation
func (v Validation) OK() bool {
	return len(v.Reasons) == 0
}

// Err returns a *ValidationError for a failed validation, nil otherwise
func (v Validation) Err() error {
	if v.OK() {
		return nil
	}
	return &ValidationError{
		SourceFilename: v.Record.Source(),
		Reasons:        v.Reasons,
	}
}

// Validate checks required fields and value formats
func Validate(r *Record) Validation {
	if r == nil {
		return Validation{Reasons: []string{"record is missing"}}
	}

	var reasons []string
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Validation{Record: r, Reasons: []string{err.Error()}}
		}
		for _, fe := range fieldErrs {
			reasons = append(reasons, describe(fe))
		}
	}
	if r.IssueDate.IsZero() {
		reasons = append(reasons, "issue_date is required")
	}

	return Validation{Record: r, Reasons: reasons}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "len":
		return fmt.Sprintf("%s must be %s characters long", fe.Field(), fe.Param())
	case "alpha", "uppercase":
		return fmt.Sprintf("%s must be an upper-case currency code, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag())
	}
}
