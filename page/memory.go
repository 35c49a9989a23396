package page

import (
	"sync"

	"github.com/andys/queryload/record"
)

// MemoryOutput keeps pages in memory. Records become visible through
// Records only once the stream is finished.
type MemoryOutput struct {
	mu       sync.Mutex
	pages    []Page
	finished bool
	closes   int
}

// NewMemoryOutput returns an empty MemoryOutput
func NewMemoryOutput() *MemoryOutput {
	return &MemoryOutput{}
}

func (m *MemoryOutput) Add(p Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, p)
	return nil
}

func (m *MemoryOutput) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
	return nil
}

func (m *MemoryOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if !m.finished {
		m.pages = nil
	}
	return nil
}

// Records returns all finished records in order, or nil if the stream was
// not finished.
func (m *MemoryOutput) Records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finished {
		return nil
	}
	var out []record.Record
	for _, p := range m.pages {
		out = append(out, p...)
	}
	return out
}

// PageCount returns the number of pages received so far
func (m *MemoryOutput) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Finished reports whether Finish was called
func (m *MemoryOutput) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

// Closes returns how many times Close was called
func (m *MemoryOutput) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
