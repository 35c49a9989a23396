package schema

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// PlannedColumn holds everything needed to convert one cell of a row
type PlannedColumn struct {
	Index   int
	Name    string
	Key     string // lookup key in a raw row
	Type    Type
	Options Options
	coerce  CoerceFunc
}

// Coerce converts a raw cell for this column
func (p *PlannedColumn) Coerce(cell any) (any, error) {
	return p.coerce(cell, p.Options)
}

// Plan is the per-run conversion plan derived from a Schema
type Plan struct {
	Columns []PlannedColumn
	schema  Schema
}

// NewPlan validates the schema and resolves type options. defaultTimezone
// applies to timestamp columns without their own timezone; empty means UTC.
func NewPlan(s Schema, defaultTimezone string) (*Plan, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	defaultLoc := time.UTC
	if defaultTimezone != "" {
		loc, err := time.LoadLocation(defaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("invalid default timezone %q: %w", defaultTimezone, err)
		}
		defaultLoc = loc
	}

	plan := &Plan{
		Columns: make([]PlannedColumn, 0, len(s)),
		schema:  append(Schema(nil), s...),
	}
	for i, col := range s {
		fn, ok := coercers[col.Type]
		if !ok {
			return nil, fmt.Errorf("column %s: %w: %s", col.Name, ErrUnsupportedType, col.Type)
		}

		pc := PlannedColumn{
			Index:  i,
			Name:   col.Name,
			Key:    lookupKey(col.Name),
			Type:   col.Type,
			coerce: fn,
		}

		if col.Type == Timestamp {
			pc.Options.Location = defaultLoc
			if col.Timezone != "" {
				loc, err := time.LoadLocation(col.Timezone)
				if err != nil {
					return nil, &OptionError{Column: col.Name, Option: "timezone", Err: err}
				}
				pc.Options.Location = loc
			}
			if col.Format != "" {
				parse, err := NewTimeParser(col.Format)
				if err != nil {
					return nil, &OptionError{Column: col.Name, Option: "format", Err: err}
				}
				pc.Options.Parse = parse
			}
		} else if col.Format != "" || col.Timezone != "" {
			return nil, &OptionError{
				Column: col.Name,
				Option: "options",
				Err:    fmt.Errorf("format and timezone only apply to timestamp columns"),
			}
		}

		plan.Columns = append(plan.Columns, pc)
	}
	return plan, nil
}

// Schema returns the schema the plan was built from
func (p *Plan) Schema() Schema {
	return p.schema
}

// Len returns the number of columns
func (p *Plan) Len() int {
	return len(p.Columns)
}
