package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/andys/queryload/metrics"
	"github.com/andys/queryload/record"
	"github.com/andys/queryload/schema"
)

// Driver executes runs: one query, one cursor, one sink
type Driver struct {
	opener  Opener
	policy  record.Policy
	logger  log.Logger
	metrics *metrics.Metrics
}

// NewDriver creates a Driver. logger and m may be nil.
func NewDriver(opener Opener, policy record.Policy, logger log.Logger, m *metrics.Metrics) *Driver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Driver{
		opener:  opener,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

// Run executes query and streams every row, in cursor order, through the
// plan into sink. The sink is finished only when the cursor is exhausted
// without error. Cursor, connection and sink are released on every path;
// the sink is closed last.
func (d *Driver) Run(ctx context.Context, query string, plan *schema.Plan, sink Sink) (res Result, err error) {
	start := time.Now()
	res.Query = query
	logger := log.With(d.logger, "query", query)
	mat := record.NewMaterializer(plan, d.policy, logger)

	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			if err == nil {
				err = &RunError{Query: query, Err: fmt.Errorf("failed to close output: %w", closeErr)}
			} else {
				level.Warn(logger).Log("msg", "failed to close output", "err", closeErr)
			}
		}
		res.FieldErrors = mat.FieldErrors()
		res.Duration = time.Since(start)
		d.metrics.ObserveRun(err != nil, res.Rows, res.Records, res.SkippedRows, res.FieldErrors)
		if err != nil {
			level.Error(logger).Log("msg", "run failed", "rows", res.Rows, "records", res.Records, "err", err)
			return
		}
		level.Info(logger).Log("msg", "run finished", "rows", res.Rows, "records", res.Records,
			"skipped", res.SkippedRows, "field_errors", res.TotalFieldErrors(), "duration", res.Duration)
	}()

	conn, err := d.opener.Open(ctx)
	if err != nil {
		return res, &RunError{Query: query, Err: fmt.Errorf("failed to open connection: %w", err)}
	}
	defer closeLogged(logger, "connection", conn.Close)

	level.Debug(logger).Log("msg", "executing query")
	cur, err := conn.Query(ctx, query)
	if err != nil {
		return res, &RunError{Query: query, Err: err}
	}
	defer closeLogged(logger, "cursor", cur.Close)

	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return res, &RunError{Query: query, Row: res.Rows, Err: err}
		}
		res.Rows++

		row, err := cur.Row()
		if err != nil {
			return res, &RunError{Query: query, Row: res.Rows, Err: err}
		}

		rec, err := mat.Materialize(row)
		if errors.Is(err, record.ErrRowSkipped) {
			res.SkippedRows++
			continue
		}
		if err != nil {
			runErr := &RunError{Query: query, Row: res.Rows, Err: err}
			var fe *record.FieldError
			if errors.As(err, &fe) {
				runErr.Column = fe.Column
			}
			return res, runErr
		}

		if err := sink.Append(rec); err != nil {
			return res, &RunError{Query: query, Row: res.Rows, Err: err}
		}
		res.Records++
	}
	if err := cur.Err(); err != nil {
		return res, &RunError{Query: query, Row: res.Rows + 1, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return res, &RunError{Query: query, Err: err}
	}

	if err := sink.Finish(); err != nil {
		return res, &RunError{Query: query, Err: err}
	}
	return res, nil
}

func closeLogged(logger log.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		level.Warn(logger).Log("msg", "failed to close "+what, "err", err)
	}
}
