package record

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/andys/queryload/schema"
)

// Materializer converts raw rows into Records following a Plan. It keeps
// per-run counters and must not be shared between runs.
type Materializer struct {
	plan   *schema.Plan
	policy Policy
	logger log.Logger

	rows        int64
	fieldErrors map[string]int64
}

// NewMaterializer creates a Materializer for one run
func NewMaterializer(plan *schema.Plan, policy Policy, logger log.Logger) *Materializer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Materializer{
		plan:        plan,
		policy:      policy,
		logger:      logger,
		fieldErrors: make(map[string]int64),
	}
}

// Materialize converts one row. Every field is attempted before the
// Record is returned; with Lenient failed fields are left nil and the error
// is nil. SkipRow returns an error wrapping ErrRowSkipped, FailRun returns
// the first *FieldError.
func (m *Materializer) Materialize(row RawRow) (Record, error) {
	m.rows++
	rec := make(Record, m.plan.Len())
	var firstErr *FieldError

	for i := range m.plan.Columns {
		col := &m.plan.Columns[i]

		cell, ok := row[col.Key]
		var v any
		var err error
		if !ok {
			err = errMissingColumn
		} else {
			v, err = col.Coerce(cell)
		}
		if err == nil {
			rec[col.Index] = v
			continue
		}

		fe := &FieldError{Column: col.Name, Type: col.Type, Value: cell, Err: err}
		m.fieldErrors[col.Name]++
		level.Warn(m.logger).Log("msg", "failed to convert field", "row", m.rows, "column", col.Name, "type", col.Type, "err", err)

		if m.policy == FailRun {
			return nil, fe
		}
		if firstErr == nil {
			firstErr = fe
		}
	}

	if firstErr != nil && m.policy == SkipRow {
		return nil, fmt.Errorf("%w: %w", ErrRowSkipped, firstErr)
	}
	return rec, nil
}

// Rows returns the number of rows seen
func (m *Materializer) Rows() int64 {
	return m.rows
}

// FieldErrors returns failed conversions per column name
func (m *Materializer) FieldErrors() map[string]int64 {
	out := make(map[string]int64, len(m.fieldErrors))
	for k, v := range m.fieldErrors {
		out[k] = v
	}
	return out
}

// TotalFieldErrors returns the number of failed conversions
func (m *Materializer) TotalFieldErrors() int64 {
	var n int64
	for _, v := range m.fieldErrors {
		n += v
	}
	return n
}
