// Package jsonl writes records as JSON Lines, one object per record keyed
// by column name.
package jsonl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/renameio/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/andys/queryload/page"
	"github.com/andys/queryload/schema"
)

var errNotWritable = errors.New("jsonl output is no longer writable")

// Output is a page.Output producing JSON Lines. Nothing reaches the
// destination before Finish.
type Output struct {
	names  []string
	stream *jsoniter.Stream

	// exactly one of file or (buf, dst) is set
	file *renameio.PendingFile
	buf  *bytes.Buffer
	dst  io.Writer

	finished bool
	closed   bool
}

// Create writes to a pending file that replaces path on Finish
func Create(path string, plan *schema.Plan) (*Output, error) {
	file, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	o := newOutput(plan, file)
	o.file = file
	return o, nil
}

// NewWriter buffers the stream in memory and copies it to w on Finish
func NewWriter(w io.Writer, plan *schema.Plan) *Output {
	buf := &bytes.Buffer{}
	o := newOutput(plan, buf)
	o.buf = buf
	o.dst = w
	return o
}

func newOutput(plan *schema.Plan, w io.Writer) *Output {
	names := make([]string, plan.Len())
	for i, col := range plan.Columns {
		names[i] = col.Name
	}
	return &Output{
		names:  names,
		stream: jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, w, 4096),
	}
}

// Add encodes every record of the page
func (o *Output) Add(p page.Page) error {
	if o.finished || o.closed {
		return errNotWritable
	}
	s := o.stream
	for _, rec := range p {
		s.WriteObjectStart()
		for i, name := range o.names {
			if i > 0 {
				s.WriteMore()
			}
			s.WriteObjectField(name)
			writeValue(s, rec[i])
		}
		s.WriteObjectEnd()
		s.WriteRaw("\n")
	}
	if s.Error != nil {
		return fmt.Errorf("failed to encode page: %w", s.Error)
	}
	if err := s.Flush(); err != nil {
		return fmt.Errorf("failed to write page: %w", err)
	}
	return nil
}

func writeValue(s *jsoniter.Stream, v any) {
	switch v := v.(type) {
	case nil:
		s.WriteNil()
	case string:
		s.WriteString(v)
	case int64:
		s.WriteInt64(v)
	case float64:
		s.WriteFloat64(v)
	case bool:
		s.WriteBool(v)
	case time.Time:
		s.WriteString(v.UTC().Format(time.RFC3339Nano))
	default:
		s.WriteVal(v)
	}
}

// Finish makes the written lines visible at the destination
func (o *Output) Finish() error {
	if o.closed {
		return errNotWritable
	}
	if err := o.stream.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if o.file != nil {
		if err := o.file.CloseAtomicallyReplace(); err != nil {
			return fmt.Errorf("failed to replace output file: %w", err)
		}
	} else if _, err := o.buf.WriteTo(o.dst); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	o.finished = true
	return nil
}

// Close drops anything not yet finished
func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if o.file != nil {
		return o.file.Cleanup()
	}
	o.buf.Reset()
	return nil
}
