// Package postgres is the lib/pq-backed dbconn driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/r3e-labs/modest/infrastructure/dbconn"
	moderr "github.com/r3e-labs/modest/infrastructure/errors"
)

// Open parses a postgres://... connection URL, dials lib/pq, verifies
// connectivity with a ping, and wraps the result in a dbconn.Connection. The
// returned *sql.DB must still be closed by the caller; conn.Close only
// disposes the statement cache.
func Open(ctx context.Context, rawURL string) (*dbconn.Connection, *sql.DB, error) {
	u, err := dbconn.ParseURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("postgres", buildDSN(u))
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
	var parts []string
	parts = append(parts, fmt.Sprintf("host=%s", u.Host))
	if u.Port != "" {
		parts = append(parts, fmt.Sprintf("port=%s", u.Port))
	}
	if u.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", u.User))
	}
	if u.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", u.Password))
	}
	if u.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", u.Database))
	}
	parts = append(parts, "sslmode=disable")
	return strings.Join(parts, " ")
}
