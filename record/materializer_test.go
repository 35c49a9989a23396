package record

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/frankban/quicktest"
	"github.com/go-kit/log"

	"github.com/andys/queryload/schema"
)

func makeTestPlan(c *quicktest.C) *schema.Plan {
	plan, err := schema.NewPlan(schema.Schema{
		{Name: "id", Type: schema.Long},
		{Name: "Name", Type: schema.String},
		{Name: "score", Type: schema.Double},
		{Name: "active", Type: schema.Boolean},
		{Name: "created", Type: schema.Timestamp, Format: "yyyy-MM-dd"},
	}, "")
	c.Assert(err, quicktest.IsNil)
	return plan
}

func TestMaterialize(t *testing.T) {
	c := quicktest.New(t)
	m := NewMaterializer(makeTestPlan(c), Lenient, nil)

	rec, err := m.Materialize(RawRow{
		"id":      "42",
		"name":    "alice",
		"score":   "1.5",
		"active":  "true",
		"created": "2024-01-15",
	})
	c.Assert(err, quicktest.IsNil)
	c.Assert(rec, quicktest.DeepEquals, Record{
		int64(42), "alice", 1.5, true, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	c.Assert(m.Rows(), quicktest.Equals, int64(1))
	c.Assert(m.TotalFieldErrors(), quicktest.Equals, int64(0))
}

func TestMaterialize_NullCells(t *testing.T) {
	c := quicktest.New(t)
	m := NewMaterializer(makeTestPlan(c), FailRun, nil)

	rec, err := m.Materialize(RawRow{"id": nil, "name": nil, "score": nil, "active": nil, "created": nil})
	c.Assert(err, quicktest.IsNil)
	c.Assert(rec, quicktest.DeepEquals, Record{nil, nil, nil, nil, nil})
}

func TestMaterialize_LenientKeepsRow(t *testing.T) {
	c := quicktest.New(t)
	var buf bytes.Buffer
	m := NewMaterializer(makeTestPlan(c), Lenient, log.NewLogfmtLogger(&buf))

	rec, err := m.Materialize(RawRow{
		"id":      "abc",
		"name":    "bob",
		"score":   "x",
		"active":  "false",
		"created": "2024-01-15",
	})
	c.Assert(err, quicktest.IsNil)
	c.Assert(rec, quicktest.HasLen, 5)
	c.Assert(rec[0], quicktest.IsNil)
	c.Assert(rec[1], quicktest.Equals, "bob")
	c.Assert(rec[2], quicktest.IsNil)
	c.Assert(rec[3], quicktest.Equals, false)
	c.Assert(m.FieldErrors(), quicktest.DeepEquals, map[string]int64{"id": 1, "score": 1})
	c.Assert(buf.String(), quicktest.Contains, `column=id`)
	c.Assert(buf.String(), quicktest.Contains, `level=warn`)
}

func TestMaterialize_MissingColumn(t *testing.T) {
	c := quicktest.New(t)
	m := NewMaterializer(makeTestPlan(c), FailRun, nil)

	_, err := m.Materialize(RawRow{"id": int64(1)})
	var fe *FieldError
	c.Assert(errors.As(err, &fe), quicktest.IsTrue)
	c.Assert(fe.Column, quicktest.Equals, "Name")
	c.Assert(err, quicktest.ErrorIs, errMissingColumn)
}

func TestMaterialize_SkipRow(t *testing.T) {
	c := quicktest.New(t)
	m := NewMaterializer(makeTestPlan(c), SkipRow, nil)

	rec, err := m.Materialize(RawRow{
		"id": "1", "name": "a", "score": "oops", "active": "maybe", "created": "2024-01-15",
	})
	c.Assert(rec, quicktest.IsNil)
	c.Assert(err, quicktest.ErrorIs, ErrRowSkipped)
	c.Assert(err, quicktest.ErrorMatches, `row skipped: column score \(double\): .*`)
	// all fields are attempted before the row is dropped
	c.Assert(m.TotalFieldErrors(), quicktest.Equals, int64(2))
}

func TestMaterialize_FailRunStopsAtFirstField(t *testing.T) {
	c := quicktest.New(t)
	m := NewMaterializer(makeTestPlan(c), FailRun, nil)

	_, err := m.Materialize(RawRow{
		"id": "1", "name": "a", "score": "oops", "active": "maybe", "created": "2024-01-15",
	})
	var fe *FieldError
	c.Assert(errors.As(err, &fe), quicktest.IsTrue)
	c.Assert(fe.Column, quicktest.Equals, "score")
	c.Assert(fe.Value, quicktest.Equals, "oops")
	c.Assert(m.TotalFieldErrors(), quicktest.Equals, int64(1))
}

func TestMaterialize_RandomRows(t *testing.T) {
	c := quicktest.New(t)
	faker := gofakeit.New(7)
	plan := makeTestPlan(c)
	m := NewMaterializer(plan, Lenient, nil)

	n := faker.IntRange(20, 200)
	for i := 0; i < n; i++ {
		id := faker.Int64()
		name := faker.Word()
		active := faker.Bool()
		created := faker.Date().UTC().Truncate(24 * time.Hour)

		rec, err := m.Materialize(RawRow{
			"id":      strconv.FormatInt(id, 10),
			"name":    name,
			"score":   faker.Float64(),
			"active":  strconv.FormatBool(active),
			"created": created.Format(time.DateOnly),
		})
		c.Assert(err, quicktest.IsNil)
		c.Assert(rec, quicktest.HasLen, plan.Len())
		c.Assert(rec[0], quicktest.Equals, id)
		c.Assert(rec[1], quicktest.Equals, name)
		c.Assert(rec[3], quicktest.Equals, active)
		c.Assert(rec[4].(time.Time).Equal(created), quicktest.IsTrue)
	}
	c.Assert(m.Rows(), quicktest.Equals, int64(n))
	c.Assert(m.TotalFieldErrors(), quicktest.Equals, int64(0))
}

func TestParsePolicy(t *testing.T) {
	c := quicktest.New(t)
	for in, want := range map[string]Policy{"": Lenient, "lenient": Lenient, "SKIP_ROW": SkipRow, "fail": FailRun} {
		p, err := ParsePolicy(in)
		c.Assert(err, quicktest.IsNil)
		c.Assert(p, quicktest.Equals, want)
	}
	_, err := ParsePolicy("ignore")
	c.Assert(err, quicktest.ErrorMatches, `unknown field error policy "ignore"`)
	c.Assert(SkipRow.String(), quicktest.Equals, "skip_row")
}
