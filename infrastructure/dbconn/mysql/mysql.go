// Package mysql is the go-sql-driver/mysql-backed dbconn driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/r3e-labs/modest/infrastructure/dbconn"
	moderr "github.com/r3e-labs/modest/infrastructure/errors"
)

// Open parses a mysql://... connection URL, dials go-sql-driver/mysql,
// verifies connectivity with a ping, and wraps the result in a
// dbconn.Connection.
func Open(ctx context.Context, rawURL string) (*dbconn.Connection, *sql.DB, error) {
	u, err := dbconn.ParseURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("mysql", buildDSN(u))
	if err != nil {
		return nil, nil, moderr.ErrConnectionInvalidUrl(rawURL, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, moderr.ErrConnectionInvalidUrl(rawURL, err)
	}

	conn := dbconn.NewConnection(func(ctx context.Context, sqlText string) (dbconn.Statement, error) {
		stmt, err := db.PrepareContext(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		return dbconn.WrapStmt(stmt), nil
	})
	return conn, db, nil
}

func buildDSN(u *dbconn.ConnectionURL) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = u.User
	cfg.Passwd = u.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", u.Host, u.Port)
	cfg.DBName = u.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// InsertOnDuplicateKeyUpdate builds one INSERT ... ON DUPLICATE KEY UPDATE
// statement merging the insert and update column/argument sets, and
// executes it through conn's statement cache like any other prepared
// statement.
func InsertOnDuplicateKeyUpdate(
	ctx context.Context,
	conn *dbconn.Connection,
	table string,
	insertCols []string,
	insertArgs []interface{},
	updateCols []string,
	updateArgs []interface{},
) (sql.Result, error) {
	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = "?"
	}
	setClauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		setClauses[i] = fmt.Sprintf("%s = ?", col)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table,
		strings.Join(insertCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(setClauses, ", "),
	)

	args := make([]interface{}, 0, len(insertArgs)+len(updateArgs))
	args = append(args, insertArgs...)
	args = append(args, updateArgs...)

	stmt, err := conn.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(ctx, args...)
}
