package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/andys/queryload/record"
)

// Cursor adapts *sql.Rows to record.Cursor. Raw rows are keyed by
// lowercased column label and reused between rows.
type Cursor struct {
	rows      *sql.Rows
	keys      []string
	values    []interface{}
	valuePtrs []interface{}
	shadowed  []bool
	row       record.RawRow
	closed    bool
}

// NewCursor prepares value holders for the result columns of rows
func NewCursor(rows *sql.Rows) (*Cursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get result columns: %w", err)
	}

	cur := &Cursor{
		rows:      rows,
		keys:      make([]string, len(columns)),
		values:    make([]interface{}, len(columns)),
		valuePtrs: make([]interface{}, len(columns)),
		shadowed:  make([]bool, len(columns)),
		row:       make(record.RawRow, len(columns)),
	}
	seen := make(map[string]bool, len(columns))
	for i, col := range columns {
		key := strings.ToLower(col)
		cur.keys[i] = key
		cur.valuePtrs[i] = &cur.values[i]
		// the first column wins when labels collide
		cur.shadowed[i] = seen[key]
		seen[key] = true
	}
	return cur, nil
}

// Columns returns the lowercased result column labels
func (c *Cursor) Columns() []string {
	return c.keys
}

func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	return c.rows.Next()
}

// Row scans the current row. The returned map is overwritten by the next
// call.
func (c *Cursor) Row() (record.RawRow, error) {
	if err := c.rows.Scan(c.valuePtrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	for i, key := range c.keys {
		if !c.shadowed[i] {
			c.row[key] = c.values[i]
		}
	}
	return c.row, nil
}

func (c *Cursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// Close releases the result set. Calling it twice is a no-op.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}
