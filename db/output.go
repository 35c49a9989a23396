package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/andys/queryload/page"
)

func escapeIdentifier(identifier string, dbType DBType) string {
	switch dbType {
	case MySQL:
		return fmt.Sprintf("`%s`", strings.ReplaceAll(identifier, "`", "``"))
	case PostgreSQL, SQLite:
		return fmt.Sprintf(`"%s"`, strings.ReplaceAll(identifier, `"`, `""`))
	default:
		return identifier
	}
}

func escapeIdentifiers(identifiers []string, dbType DBType) []string {
	escaped := make([]string, len(identifiers))
	for i, id := range identifiers {
		escaped[i] = escapeIdentifier(id, dbType)
	}
	return escaped
}

func placeholders(n int, dbType DBType) []string {
	out := make([]string, n)
	for i := range out {
		if dbType == PostgreSQL {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

// TableOutput inserts pages into a destination table. All pages of a run
// share one transaction, committed by Finish and rolled back by Close if
// Finish never succeeded.
type TableOutput struct {
	ctx      context.Context
	conn     *Connection
	query    string
	tx       *sql.Tx
	finished bool
	closed   bool
}

// NewTableOutput prepares an insert of columns, in record order, into table
func NewTableOutput(ctx context.Context, c *Connection, table string, columns []string) *TableOutput {
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		escapeIdentifier(table, c.Type),
		strings.Join(escapeIdentifiers(columns, c.Type), ", "),
		strings.Join(placeholders(len(columns), c.Type), ", "),
	)
	return &TableOutput{ctx: ctx, conn: c, query: query}
}

func (o *TableOutput) begin() error {
	if o.tx != nil {
		return nil
	}
	if o.conn.db == nil {
		return fmt.Errorf("sql: database is closed")
	}
	tx, err := o.conn.db.BeginTx(o.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	o.tx = tx
	return nil
}

func (o *TableOutput) Add(p page.Page) error {
	if o.closed || o.finished {
		return fmt.Errorf("table output is no longer writable")
	}
	if err := o.begin(); err != nil {
		return err
	}
	for _, rec := range p {
		if _, err := o.tx.ExecContext(o.ctx, o.query, rec...); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", o.query, err)
		}
	}
	return nil
}

func (o *TableOutput) Finish() error {
	if err := o.begin(); err != nil {
		return err
	}
	if err := o.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	o.finished = true
	return nil
}

func (o *TableOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if o.tx == nil || o.finished {
		return nil
	}
	if err := o.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
