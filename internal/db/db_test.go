package db

import (
	"path/filepath"
	"testing"
)

func TestOpenSQLitePath(t *testing.T) {
	conn, errOpen := Open(filepath.Join(t.TempDir(), "archive.db"))
	if errOpen != nil {
		t.Fatalf("expected no error, got %v", errOpen)
	}
	if got := DialectName(conn); got != DialectSQLite {
		t.Fatalf("expected dialect %q, got %q", DialectSQLite, got)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("expected migration to succeed, got %v", errMigrate)
	}
}

func TestOpenSQLiteSchemePrefix(t *testing.T) {
	conn, errOpen := Open("sqlite://" + filepath.Join(t.TempDir(), "archive.db"))
	if errOpen != nil {
		t.Fatalf("expected no error, got %v", errOpen)
	}
	if got := DialectName(conn); got != DialectSQLite {
		t.Fatalf("expected dialect %q, got %q", DialectSQLite, got)
	}
}

func TestOpenEmptyDSN(t *testing.T) {
	if _, errOpen := Open("  "); errOpen == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/archive":   DialectPostgres,
		"postgresql://u:p@localhost/archive": DialectPostgres,
		"sqlite://archive.db":                DialectSQLite,
		"archive.db":                         DialectSQLite,
	}
	for dsn, want := range cases {
		if got := dialectFor(dsn); got != want {
			t.Fatalf("dialectFor(%q): expected %q, got %q", dsn, want, got)
		}
	}
}

func TestDialectNameNil(t *testing.T) {
	if got := DialectName(nil); got != "" {
		t.Fatalf("expected empty dialect for nil connection, got %q", got)
	}
}
