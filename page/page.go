package page

import (
	"errors"
	"fmt"

	"github.com/andys/queryload/record"
)

// DefaultSize is the number of records buffered before a page is flushed
const DefaultSize = 1024

var (
	// ErrFinished is returned by Append and Flush after Finish
	ErrFinished = errors.New("page builder already finished")
	// ErrClosed is returned by every operation except Close after Close
	ErrClosed = errors.New("page builder closed")
)

// Page is a batch of records handed to an Output. The Output owns it after
// Add returns.
type Page []record.Record

// Output is the downstream consumer of pages. Finish marks the stream
// complete; Close releases resources and discards the stream if Finish was
// never called.
type Output interface {
	Add(p Page) error
	Finish() error
	Close() error
}

type state int

const (
	open state = iota
	finished
	closed
)

// Builder buffers records into pages for an Output. It is owned by a single
// run and is not safe for concurrent use.
type Builder struct {
	out   Output
	size  int
	buf   Page
	state state

	records int64
	pages   int64
}

// NewBuilder returns a Builder flushing every size records. size <= 0
// means DefaultSize.
func NewBuilder(out Output, size int) *Builder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Builder{
		out:  out,
		size: size,
		buf:  make(Page, 0, size),
	}
}

func (b *Builder) check() error {
	switch b.state {
	case finished:
		return ErrFinished
	case closed:
		return ErrClosed
	}
	return nil
}

// Append adds a record to the current page, flushing it when full
func (b *Builder) Append(rec record.Record) error {
	if err := b.check(); err != nil {
		return err
	}
	b.buf = append(b.buf, rec)
	b.records++
	if len(b.buf) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush hands buffered records to the Output without ending the stream
func (b *Builder) Flush() error {
	if err := b.check(); err != nil {
		return err
	}
	if len(b.buf) == 0 {
		return nil
	}
	p := b.buf
	b.buf = make(Page, 0, b.size)
	if err := b.out.Add(p); err != nil {
		return fmt.Errorf("failed to flush page of %d records: %w", len(p), err)
	}
	b.pages++
	return nil
}

// Finish flushes remaining records and completes the stream
func (b *Builder) Finish() error {
	if err := b.Flush(); err != nil {
		return err
	}
	if err := b.out.Finish(); err != nil {
		return fmt.Errorf("failed to finish output: %w", err)
	}
	b.state = finished
	return nil
}

// Close releases the Output. It is valid in any state and a no-op once
// closed.
func (b *Builder) Close() error {
	if b.state == closed {
		return nil
	}
	b.state = closed
	b.buf = nil
	return b.out.Close()
}

// Records returns the number of records appended
func (b *Builder) Records() int64 {
	return b.records
}

// Pages returns the number of pages handed to the Output
func (b *Builder) Pages() int64 {
	return b.pages
}
