package postgres

import (
	"strings"
	"testing"

	"github.com/r3e-labs/modest/infrastructure/dbconn"
)

func TestBuildDSNIncludesAllProvidedFields(t *testing.T) {
	u := &dbconn.ConnectionURL{Driver: "postgres", User: "alice", Password: "secret", Host: "db.internal", Port: "5432", Database: "app"}
	dsn := buildDSN(u)

	for _, want := range []string{"host=db.internal", "port=5432", "user=alice", "password=secret", "dbname=app", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("expected DSN %q to contain %q", dsn, want)
		}
	}
}

func TestBuildDSNOmitsEmptyOptionalFields(t *testing.T) {
	u := &dbconn.ConnectionURL{Driver: "postgres", Host: "db.internal", Port: "5432"}
	dsn := buildDSN(u)

	if strings.Contains(dsn, "user=") || strings.Contains(dsn, "password=") || strings.Contains(dsn, "dbname=") {
		t.Fatalf("expected DSN %q to omit empty optional fields", dsn)
	}
}
