// Package dbconn is the framework shared by every SQL driver package: URL
// parsing and dispatch, a per-connection prepared-statement cache, and the
// textual transaction helpers every driver gets for free. Driver packages
// (postgres, mysql) only ever need to supply a dial routine and a statement
// factory.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	moderr "github.com/r3e-labs/modest/infrastructure/errors"
)

// defaultPorts maps a scheme to its well-known port, used when a connection
// URL omits one.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
	"ssh":   "22",
	"sftp":  "22",
	"smtp":  "25",
	"mysql": "3306",
	"postgres": "5432",
}

// ConnectionURL is the parsed form of a <driver>://[user[:password]@]host[:port][/database]
// connection string. sqlite's two special forms (sqlite:///path/to/file.db
// and sqlite::memory:) populate Path instead of Host/Database.
type ConnectionURL struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     string
	Database string
	Path     string // sqlite file path, or ":memory:"
}

// ParseURL parses a connection string into its components, filling in the
// driver's default port when one is not given. It returns a
// Connection.InvalidUrl error (via infrastructure/errors) on any malformed
// input.
func ParseURL(raw string) (*ConnectionURL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, moderr.ErrConnectionInvalidUrl(raw, errors.New("missing scheme"))
	}
	driver := strings.ToLower(scheme)

	if driver == "sqlite" {
		return parseSQLiteURL(raw, rest)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, moderr.ErrConnectionInvalidUrl(raw, err)
	}

	c := &ConnectionURL{Driver: driver, Host: u.Hostname(), Port: u.Port()}
	if u.User != nil {
		c.User = u.User.Username()
		c.Password, _ = u.User.Password()
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.Database = db
	}
	if c.Host == "" {
		return nil, moderr.ErrConnectionInvalidUrl(raw, errors.New("missing host"))
	}
	if c.Port == "" {
		c.Port = defaultPorts[driver]
	}
	return c, nil
}

func parseSQLiteURL(raw, rest string) (*ConnectionURL, error) {
	if rest == ":memory:" {
		return &ConnectionURL{Driver: "sqlite", Path: ":memory:"}, nil
	}
	path := strings.TrimPrefix(rest, "/")
	if path == "" {
		return nil, moderr.ErrConnectionInvalidUrl(raw, errors.New("missing sqlite path"))
	}
	return &ConnectionURL{Driver: "sqlite", Path: "/" + path}, nil
}

// Statement is one prepared statement bound to a Connection. Reset prepares
// it for reuse after a prior Exec/Query; drivers whose underlying
// *sql.Stmt carries no cross-call state (every database/sql driver) can
// make Reset a no-op, as WrapStmt does.
type Statement interface {
	Reset(ctx context.Context) error
	Exec(ctx context.Context, args ...interface{}) (sql.Result, error)
	Query(ctx context.Context, args ...interface{}) (*sql.Rows, error)
	Close() error
}

// StatementFactory prepares sqlText against the underlying driver connection.
type StatementFactory func(ctx context.Context, sqlText string) (Statement, error)

// sqlStatement adapts a *sql.Stmt to the Statement interface. database/sql
// statements take their arguments fresh on every Exec/Query call, so Reset
// has nothing to undo.
type sqlStatement struct {
	stmt *sql.Stmt
}

// WrapStmt adapts a prepared *sql.Stmt into a dbconn.Statement, shared by
// every driver package's StatementFactory.
func WrapStmt(stmt *sql.Stmt) Statement {
	return &sqlStatement{stmt: stmt}
}

func (s *sqlStatement) Reset(ctx context.Context) error { return nil }

func (s *sqlStatement) Exec(ctx context.Context, args ...interface{}) (sql.Result, error) {
	return s.stmt.ExecContext(ctx, args...)
}

func (s *sqlStatement) Query(ctx context.Context, args ...interface{}) (*sql.Rows, error) {
	return s.stmt.QueryContext(ctx, args...)
}

func (s *sqlStatement) Close() error { return s.stmt.Close() }

// Connection owns a case-insensitive cache from SQL text to a prepared
// Statement. Prepare returns a cached statement after resetting it; a reset
// failure evicts the entry and re-prepares from scratch. Close disposes the
// full cache.
type Connection struct {
	mu      sync.Mutex
	prepare StatementFactory
	cache   map[string]Statement
}

// NewConnection wraps a StatementFactory (supplied by a driver package) in a
// caching Connection.
func NewConnection(prepare StatementFactory) *Connection {
	return &Connection{prepare: prepare, cache: make(map[string]Statement)}
}

func cacheKey(sqlText string) string {
	return strings.ToLower(strings.TrimSpace(sqlText))
}

// Prepare returns a Statement for sqlText, reusing a cached one (after a
// reset) when present. Cache replacement on collision disposes the previous
// statement.
func (c *Connection) Prepare(ctx context.Context, sqlText string) (Statement, error) {
	key := cacheKey(sqlText)

	c.mu.Lock()
	stmt, ok := c.cache[key]
	c.mu.Unlock()

	if ok {
		if err := stmt.Reset(ctx); err == nil {
			return stmt, nil
		}
		c.mu.Lock()
		if c.cache[key] == stmt {
			delete(c.cache, key)
		}
		c.mu.Unlock()
		_ = stmt.Close()
	}

	fresh, err := c.prepare(ctx, sqlText)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if old, exists := c.cache[key]; exists {
		_ = old.Close()
	}
	c.cache[key] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// Begin starts a transaction by preparing and executing the literal "BEGIN"
// command through the same statement cache as any other query.
func (c *Connection) Begin(ctx context.Context) error {
	if _, err := c.execLiteral(ctx, "BEGIN"); err != nil {
		return moderr.ErrTransactionBegin(err)
	}
	return nil
}

// Commit prepares and executes "COMMIT".
func (c *Connection) Commit(ctx context.Context) error {
	if _, err := c.execLiteral(ctx, "COMMIT"); err != nil {
		return moderr.ErrTransactionCommit(err)
	}
	return nil
}

// Rollback prepares and executes "ROLLBACK".
func (c *Connection) Rollback(ctx context.Context) error {
	if _, err := c.execLiteral(ctx, "ROLLBACK"); err != nil {
		return moderr.ErrTransactionRollback(err)
	}
	return nil
}

func (c *Connection) execLiteral(ctx context.Context, command string) (sql.Result, error) {
	stmt, err := c.Prepare(ctx, command)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(ctx)
}

// Close disposes every cached statement and clears the cache.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, stmt := range c.cache {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.cache, key)
	}
	return firstErr
}

// FetchStructs runs query against db and scans every result row into dest (a
// pointer to a slice of structs) using sqlx's struct-tag column mapping,
// bypassing the statement cache for read paths that want row-to-struct
// binding rather than manual Scan calls.
func FetchStructs(ctx context.Context, db *sql.DB, driverName, query string, dest interface{}, args ...interface{}) error {
	return sqlx.NewDb(db, driverName).SelectContext(ctx, dest, query, args...)
}
