package worker

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/andys/queryload/metrics"
	"github.com/andys/queryload/page"
	"github.com/andys/queryload/record"
	"github.com/andys/queryload/schema"
)

type fakeCursor struct {
	rows    []record.RawRow
	failAt  int // 1-based row whose Row call fails, 0 for none
	iterErr error
	pos     int
	closes  int
}

func (f *fakeCursor) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeCursor) Row() (record.RawRow, error) {
	if f.pos == f.failAt {
		return nil, errors.New("lost connection to engine")
	}
	return f.rows[f.pos-1], nil
}

func (f *fakeCursor) Err() error { return f.iterErr }

func (f *fakeCursor) Close() error {
	f.closes++
	return nil
}

type fakeConn struct {
	cursor   *fakeCursor
	queryErr error
	queries  []string
	closes   int
}

func (f *fakeConn) Query(ctx context.Context, query string) (record.Cursor, error) {
	f.queries = append(f.queries, query)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.cursor, nil
}

func (f *fakeConn) Close() error {
	f.closes++
	return nil
}

func openerFor(conn *fakeConn) Opener {
	return OpenerFunc(func(ctx context.Context) (Conn, error) {
		return conn, nil
	})
}

// recordingSink counts calls around a page.Builder
type recordingSink struct {
	*page.Builder
	out      *page.MemoryOutput
	appends  int
	finishes int
	closes   int
}

func newRecordingSink() *recordingSink {
	out := page.NewMemoryOutput()
	return &recordingSink{Builder: page.NewBuilder(out, 2), out: out}
}

func (s *recordingSink) Append(rec record.Record) error {
	s.appends++
	return s.Builder.Append(rec)
}

func (s *recordingSink) Finish() error {
	s.finishes++
	return s.Builder.Finish()
}

func (s *recordingSink) Close() error {
	s.closes++
	return s.Builder.Close()
}

func idNamePlan(c *quicktest.C) *schema.Plan {
	plan, err := schema.NewPlan(schema.Schema{
		{Name: "id", Type: schema.Long},
		{Name: "name", Type: schema.String},
	}, "")
	c.Assert(err, quicktest.IsNil)
	return plan
}

func TestRun_EndToEnd(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{rows: []record.RawRow{
		{"id": "1", "name": "a"},
		{"id": "2", "name": "b"},
	}}
	conn := &fakeConn{cursor: cur}
	sink := newRecordingSink()

	res, err := NewDriver(openerFor(conn), record.Lenient, nil, nil).
		Run(context.Background(), "SELECT id, name FROM t", idNamePlan(c), sink)
	c.Assert(err, quicktest.IsNil)
	c.Assert(res.Query, quicktest.Equals, "SELECT id, name FROM t")
	c.Assert(res.Rows, quicktest.Equals, int64(2))
	c.Assert(res.Records, quicktest.Equals, int64(2))
	c.Assert(sink.out.Records(), quicktest.DeepEquals, []record.Record{
		{int64(1), "a"},
		{int64(2), "b"},
	})
	c.Assert(sink.finishes, quicktest.Equals, 1)
	c.Assert(sink.closes, quicktest.Equals, 1)
	c.Assert(cur.closes, quicktest.Equals, 1)
	c.Assert(conn.closes, quicktest.Equals, 1)
	c.Assert(conn.queries, quicktest.DeepEquals, []string{"SELECT id, name FROM t"})
}

func TestRun_CursorErrorOnThirdRow(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{
		rows: []record.RawRow{
			{"id": "1", "name": "a"},
			{"id": "2", "name": "b"},
			{"id": "3", "name": "c"},
			{"id": "4", "name": "d"},
		},
		failAt: 3,
	}
	conn := &fakeConn{cursor: cur}
	sink := newRecordingSink()
	m := metrics.New()

	res, err := NewDriver(openerFor(conn), record.Lenient, nil, m).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)

	var runErr *RunError
	c.Assert(errors.As(err, &runErr), quicktest.IsTrue)
	c.Assert(runErr.Row, quicktest.Equals, int64(3))
	c.Assert(runErr.Query, quicktest.Equals, "SELECT 1")
	c.Assert(err, quicktest.ErrorMatches, `query "SELECT 1" row 3: lost connection to engine`)
	c.Assert(sink.appends, quicktest.Equals, 2)
	c.Assert(res.Records, quicktest.Equals, int64(2))
	c.Assert(sink.finishes, quicktest.Equals, 0)
	c.Assert(sink.closes, quicktest.Equals, 1)
	c.Assert(sink.out.Records(), quicktest.IsNil)
	c.Assert(cur.closes, quicktest.Equals, 1)
	c.Assert(conn.closes, quicktest.Equals, 1)
	c.Assert(testutil.ToFloat64(m.Runs.WithLabelValues("failure")), quicktest.Equals, 1.0)
}

func TestRun_IterationError(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{
		rows:    []record.RawRow{{"id": "1", "name": "a"}},
		iterErr: errors.New("query timed out"),
	}
	sink := newRecordingSink()

	_, err := NewDriver(openerFor(&fakeConn{cursor: cur}), record.Lenient, nil, nil).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)
	c.Assert(err, quicktest.ErrorMatches, `query "SELECT 1" row 2: query timed out`)
	c.Assert(sink.finishes, quicktest.Equals, 0)
	c.Assert(sink.closes, quicktest.Equals, 1)
}

func TestRun_OpenError(t *testing.T) {
	c := quicktest.New(t)
	sink := newRecordingSink()
	opener := OpenerFunc(func(ctx context.Context) (Conn, error) {
		return nil, errors.New("access denied")
	})

	_, err := NewDriver(opener, record.Lenient, nil, nil).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)
	c.Assert(err, quicktest.ErrorMatches, `query "SELECT 1": failed to open connection: access denied`)
	c.Assert(sink.closes, quicktest.Equals, 1)
}

func TestRun_QueryError(t *testing.T) {
	c := quicktest.New(t)
	conn := &fakeConn{queryErr: errors.New("table not found")}
	sink := newRecordingSink()

	_, err := NewDriver(openerFor(conn), record.Lenient, nil, nil).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)
	c.Assert(err, quicktest.ErrorMatches, `query "SELECT 1": table not found`)
	c.Assert(conn.closes, quicktest.Equals, 1)
	c.Assert(sink.closes, quicktest.Equals, 1)
}

func TestRun_LenientFieldErrors(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{rows: []record.RawRow{
		{"id": "abc", "name": "a"},
		{"id": "2", "name": "b"},
	}}
	sink := newRecordingSink()

	res, err := NewDriver(openerFor(&fakeConn{cursor: cur}), record.Lenient, nil, nil).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)
	c.Assert(err, quicktest.IsNil)
	c.Assert(res.Records, quicktest.Equals, int64(2))
	c.Assert(res.FieldErrors, quicktest.DeepEquals, map[string]int64{"id": 1})
	c.Assert(res.TotalFieldErrors(), quicktest.Equals, int64(1))
	c.Assert(sink.out.Records(), quicktest.DeepEquals, []record.Record{
		{nil, "a"},
		{int64(2), "b"},
	})
}

func TestRun_SkipRow(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{rows: []record.RawRow{
		{"id": "abc", "name": "a"},
		{"id": "2", "name": "b"},
	}}
	sink := newRecordingSink()

	res, err := NewDriver(openerFor(&fakeConn{cursor: cur}), record.SkipRow, nil, nil).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)
	c.Assert(err, quicktest.IsNil)
	c.Assert(res.Rows, quicktest.Equals, int64(2))
	c.Assert(res.SkippedRows, quicktest.Equals, int64(1))
	c.Assert(sink.out.Records(), quicktest.DeepEquals, []record.Record{{int64(2), "b"}})
}

func TestRun_FailRunOnFieldError(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{rows: []record.RawRow{
		{"id": "1", "name": "a"},
		{"id": "x2", "name": "b"},
	}}
	sink := newRecordingSink()

	_, err := NewDriver(openerFor(&fakeConn{cursor: cur}), record.FailRun, nil, nil).
		Run(context.Background(), "SELECT 1", idNamePlan(c), sink)
	var runErr *RunError
	c.Assert(errors.As(err, &runErr), quicktest.IsTrue)
	c.Assert(runErr.Row, quicktest.Equals, int64(2))
	c.Assert(runErr.Column, quicktest.Equals, "id")
	c.Assert(err, quicktest.ErrorMatches, `query "SELECT 1" row 2 column id: column id \(long\): cannot parse "x2" as long: invalid syntax`)
	c.Assert(sink.finishes, quicktest.Equals, 0)
	c.Assert(sink.closes, quicktest.Equals, 1)
}

func TestRun_Cancelled(t *testing.T) {
	c := quicktest.New(t)
	cur := &fakeCursor{rows: []record.RawRow{{"id": "1", "name": "a"}}}
	conn := &fakeConn{cursor: cur}
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDriver(openerFor(conn), record.Lenient, nil, nil).Run(ctx, "SELECT 1", idNamePlan(c), sink)
	c.Assert(err, quicktest.ErrorIs, context.Canceled)
	c.Assert(cur.closes, quicktest.Equals, 1)
	c.Assert(conn.closes, quicktest.Equals, 1)
	c.Assert(sink.closes, quicktest.Equals, 1)
}

func TestRun_RandomRowCounts(t *testing.T) {
	c := quicktest.New(t)
	faker := gofakeit.New(42)
	plan := idNamePlan(c)

	for round := 0; round < 10; round++ {
		n := faker.IntRange(0, 300)
		rows := make([]record.RawRow, n)
		for i := range rows {
			rows[i] = record.RawRow{"id": strconv.FormatInt(faker.Int64(), 10), "name": faker.Name()}
		}
		sink := newRecordingSink()

		res, err := NewDriver(openerFor(&fakeConn{cursor: &fakeCursor{rows: rows}}), record.Lenient, nil, nil).
			Run(context.Background(), "SELECT 1", plan, sink)
		c.Assert(err, quicktest.IsNil)
		c.Assert(res.Records, quicktest.Equals, int64(n))

		got := sink.out.Records()
		c.Assert(got, quicktest.HasLen, n)
		for i, rec := range got {
			c.Assert(rec, quicktest.HasLen, plan.Len())
			c.Assert(rec[1], quicktest.Equals, rows[i]["name"])
		}
	}
}
