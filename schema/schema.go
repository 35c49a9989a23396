package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the logical type of an output column
type Type string

const (
	String    Type = "string"
	Long      Type = "long"
	Double    Type = "double"
	Boolean   Type = "boolean"
	Timestamp Type = "timestamp"
	JSON      Type = "json"
)

// ErrUnsupportedType is returned for declared types that have no coercion
var ErrUnsupportedType = errors.New("unsupported column type")

// ParseType converts a configured type name into a Type
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case String, Long, Double, Boolean, Timestamp, JSON:
		return t, nil
	default:
		return "", fmt.Errorf("unknown column type %q", s)
	}
}

// Column describes one output column. Format and Timezone only apply to
// timestamp columns.
type Column struct {
	Name     string
	Type     Type
	Format   string
	Timezone string
}

// Schema is the ordered list of output columns
type Schema []Column

// Validate checks that column names are present and unique
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New("schema has no columns")
	}
	seen := make(map[string]bool, len(s))
	for i, col := range s {
		if strings.TrimSpace(col.Name) == "" {
			return fmt.Errorf("column %d has an empty name", i)
		}
		key := lookupKey(col.Name)
		if seen[key] {
			return fmt.Errorf("duplicate column name %q", col.Name)
		}
		seen[key] = true
	}
	return nil
}

// Names returns the column names in schema order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// OptionError reports structurally invalid type options for a column
type OptionError struct {
	Column string
	Option string
	Err    error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("column %s: invalid %s: %v", e.Column, e.Option, e.Err)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

// lookupKey matches result columns by label regardless of case
func lookupKey(name string) string {
	return strings.ToLower(name)
}
