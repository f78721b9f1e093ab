package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/r3e-labs/modest/infrastructure/dbconn"
)

func TestBuildDSNIncludesHostPortUserDatabase(t *testing.T) {
	u := &dbconn.ConnectionURL{Driver: "mysql", User: "alice", Password: "secret", Host: "db.internal", Port: "3306", Database: "app"}
	dsn := buildDSN(u)
	if dsn != "alice:secret@tcp(db.internal:3306)/app?parseTime=true" {
		t.Fatalf("unexpected DSN: %q", dsn)
	}
}

func TestInsertOnDuplicateKeyUpdateMergesColumnsAndArgs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	conn := dbconn.NewConnection(func(ctx context.Context, sqlText string) (dbconn.Statement, error) {
		stmt, err := db.PrepareContext(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		return dbconn.WrapStmt(stmt), nil
	})

	mock.ExpectPrepare(`INSERT INTO widgets \(id, name\) VALUES \(\?, \?\) ON DUPLICATE KEY UPDATE name = \?`).
		ExpectExec().WithArgs("w1", "first", "second").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = InsertOnDuplicateKeyUpdate(context.Background(), conn, "widgets",
		[]string{"id", "name"}, []interface{}{"w1", "first"},
		[]string{"name"}, []interface{}{"second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
