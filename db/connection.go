package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/andys/queryload/record"
)

type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
)

// Options are passed through to the driver as connection parameters
type Options struct {
	User     string
	Password string
	Params   map[string]string
}

// Connection represents a database connection pool
type Connection struct {
	db   *sql.DB
	Type DBType
}

// Connect establishes a database connection from a URL string. The URL
// scheme selects the driver; Options override the URL credentials and are
// appended as DSN parameters.
func Connect(dbURL string, opts Options) (*Connection, error) {
	dbType, dsn, err := buildDSN(dbURL, opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dbType), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db, Type: dbType}, nil
}

func buildDSN(dbURL string, opts Options) (DBType, string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database URL: %w", err)
	}

	if opts.User != "" {
		if opts.Password != "" {
			u.User = url.UserPassword(opts.User, opts.Password)
		} else {
			u.User = url.User(opts.User)
		}
	}

	query := u.Query()
	keys := make([]string, 0, len(opts.Params))
	for k := range opts.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, opts.Params[k])
	}
	params := query.Encode()

	switch u.Scheme {
	case "mysql":
		// Convert URL format to DSN format
		database := strings.TrimPrefix(u.Path, "/")
		dsn := fmt.Sprintf("tcp(%s)/%s", u.Host, database)
		if u.User != nil {
			creds := u.User.Username()
			if pass, ok := u.User.Password(); ok {
				creds += ":" + pass
			}
			dsn = creds + "@" + dsn
		}
		if params != "" {
			dsn += "?" + params
		}
		return MySQL, dsn, nil

	case "postgres", "postgresql":
		// PostgreSQL can use the URL directly
		u.RawQuery = params
		return PostgreSQL, u.String(), nil

	case "sqlite", "sqlite3":
		dsn := u.Host + u.Path
		if dsn == "" {
			dsn = u.Opaque
		}
		if params != "" {
			dsn += "?" + params
		}
		return SQLite, dsn, nil

	default:
		return "", "", fmt.Errorf("unsupported database type: %s", u.Scheme)
	}
}

// NewConnection wraps an already opened pool, for drivers that are not
// selected by URL scheme
func NewConnection(db *sql.DB, dbType DBType) *Connection {
	return &Connection{db: db, Type: dbType}
}

// Close closes the database connection
func (c *Connection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB instance
func (c *Connection) GetDB() *sql.DB {
	return c.db
}

// Open reserves a dedicated connection from the pool for one run
func (c *Connection) Open(ctx context.Context) (*Conn, error) {
	if c.db == nil {
		return nil, errors.New("sql: database is closed")
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Conn is a single connection owned by one run
type Conn struct {
	conn   *sql.Conn
	closed bool
}

// Query executes query and returns a cursor over its rows
func (c *Conn) Query(ctx context.Context, query string) (record.Cursor, error) {
	if c.closed {
		return nil, sql.ErrConnDone
	}
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	cur, err := NewCursor(rows)
	if err != nil {
		rows.Close()
		return nil, err
	}
	return cur, nil
}

// Close returns the connection to the pool. Calling it twice is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
