// Package arrowipc writes pages as Arrow record batches to an IPC file.
// The file only appears at its path once the stream is finished.
package arrowipc

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/renameio/v2"

	"github.com/andys/queryload/page"
	"github.com/andys/queryload/schema"
)

// TimestampType is the Arrow type of timestamp columns
var TimestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// Schema maps a plan to an Arrow schema. Every field is nullable.
func Schema(plan *schema.Plan) (*arrow.Schema, error) {
	fields := make([]arrow.Field, plan.Len())
	for i, col := range plan.Columns {
		var dt arrow.DataType
		switch col.Type {
		case schema.String:
			dt = arrow.BinaryTypes.String
		case schema.Long:
			dt = arrow.PrimitiveTypes.Int64
		case schema.Double:
			dt = arrow.PrimitiveTypes.Float64
		case schema.Boolean:
			dt = arrow.FixedWidthTypes.Boolean
		case schema.Timestamp:
			dt = TimestampType
		default:
			return nil, fmt.Errorf("column %s: %w: %s", col.Name, schema.ErrUnsupportedType, col.Type)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// Output is a page.Output writing one record batch per page
type Output struct {
	plan   *schema.Plan
	schema *arrow.Schema
	mem    memory.Allocator
	file   *renameio.PendingFile
	writer *ipc.FileWriter

	finished bool
	closed   bool
}

// New creates a pending Arrow IPC file for path
func New(path string, plan *schema.Plan) (*Output, error) {
	sc, err := Schema(plan)
	if err != nil {
		return nil, err
	}
	file, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	mem := memory.NewGoAllocator()
	writer, err := ipc.NewFileWriter(file, ipc.WithSchema(sc), ipc.WithAllocator(mem))
	if err != nil {
		file.Cleanup()
		return nil, fmt.Errorf("failed to start arrow stream: %w", err)
	}
	return &Output{
		plan:   plan,
		schema: sc,
		mem:    mem,
		file:   file,
		writer: writer,
	}, nil
}

// Add converts the page to a record batch and writes it
func (o *Output) Add(p page.Page) error {
	if o.closed || o.finished {
		return fmt.Errorf("arrow output is no longer writable")
	}
	rb := array.NewRecordBuilder(o.mem, o.schema)
	defer rb.Release()

	for _, rec := range p {
		for i, col := range o.plan.Columns {
			if err := appendValue(rb.Field(i), col.Type, rec[i]); err != nil {
				return fmt.Errorf("column %s: %w", col.Name, err)
			}
		}
	}

	batch := rb.NewRecord()
	defer batch.Release()
	if err := o.writer.Write(batch); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	return nil
}

func appendValue(b array.Builder, typ schema.Type, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	var ok bool
	switch typ {
	case schema.String:
		var s string
		if s, ok = v.(string); ok {
			b.(*array.StringBuilder).Append(s)
		}
	case schema.Long:
		var n int64
		if n, ok = v.(int64); ok {
			b.(*array.Int64Builder).Append(n)
		}
	case schema.Double:
		var f float64
		if f, ok = v.(float64); ok {
			b.(*array.Float64Builder).Append(f)
		}
	case schema.Boolean:
		var t bool
		if t, ok = v.(bool); ok {
			b.(*array.BooleanBuilder).Append(t)
		}
	case schema.Timestamp:
		var t time.Time
		if t, ok = v.(time.Time); ok {
			b.(*array.TimestampBuilder).Append(arrow.Timestamp(t.UnixMicro()))
		}
	}
	if !ok {
		return fmt.Errorf("unexpected %T for %s", v, typ)
	}
	return nil
}

// Finish writes the file footer and moves the file into place
func (o *Output) Finish() error {
	if o.closed {
		return fmt.Errorf("arrow output closed")
	}
	if err := o.writer.Close(); err != nil {
		return fmt.Errorf("failed to close arrow stream: %w", err)
	}
	if err := o.file.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace output file: %w", err)
	}
	o.finished = true
	return nil
}

// Close removes the pending file unless Finish succeeded
func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.file.Cleanup()
}
