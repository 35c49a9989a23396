package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andys/queryload/schema"
)

// RawRow maps lowercased result column labels to the cell values scanned
// from the cursor. A missing key means the field could not be retrieved.
// The map is only valid until the cursor advances.
type RawRow map[string]any

// Record is one typed row, ordered like the plan's columns. A nil field is
// a null or a field whose conversion failed.
type Record []any

// Cursor is a forward-only handle over query result rows
type Cursor interface {
	Next() bool
	Row() (RawRow, error)
	Err() error
	Close() error
}

// Policy decides what happens to a row when one of its fields fails
// conversion.
type Policy int

const (
	// Lenient leaves failed fields null and keeps the row
	Lenient Policy = iota
	// SkipRow drops rows with any failed field
	SkipRow
	// FailRun aborts the run on the first failed field
	FailRun
)

func (p Policy) String() string {
	switch p {
	case Lenient:
		return "lenient"
	case SkipRow:
		return "skip_row"
	case FailRun:
		return "fail"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a configured policy name. Empty means Lenient.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "skip_row", "skip":
		return SkipRow, nil
	case "fail", "strict":
		return FailRun, nil
	default:
		return Lenient, fmt.Errorf("unknown field error policy %q", s)
	}
}

// ErrRowSkipped marks rows dropped under SkipRow
var ErrRowSkipped = errors.New("row skipped")

var errMissingColumn = errors.New("column not found in result")

// FieldError describes a single field that could not be converted
type FieldError struct {
	Column string
	Type   schema.Type
	Value  any
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("column %s (%s): %v", e.Column, e.Type, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
