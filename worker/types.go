package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/andys/queryload/record"
)

// Opener opens the connection a single run executes its query on
type Opener interface {
	Open(ctx context.Context) (Conn, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context) (Conn, error)

func (f OpenerFunc) Open(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Conn is a connection owned by one run
type Conn interface {
	Query(ctx context.Context, query string) (record.Cursor, error)
	Close() error
}

// Sink receives the records of one run. page.Builder implements it.
type Sink interface {
	Append(rec record.Record) error
	Finish() error
	Close() error
}

// Result summarises one run
type Result struct {
	Query       string
	Rows        int64
	Records     int64
	SkippedRows int64
	FieldErrors map[string]int64
	Duration    time.Duration
}

// TotalFieldErrors returns the number of failed field conversions
func (r Result) TotalFieldErrors() int64 {
	var n int64
	for _, v := range r.FieldErrors {
		n += v
	}
	return n
}

// RunError is a run failure with enough context to locate the faulty row
// or column. Row is 1-based and zero when the failure is not tied to a row.
type RunError struct {
	Query  string
	Row    int64
	Column string
	Err    error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("query %q", e.Query)
	if e.Row > 0 {
		msg += fmt.Sprintf(" row %d", e.Row)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %s", e.Column)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
