package migrations

import (
	"database/sql"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

func TestNamesSorted(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			t.Fatalf("Names returned a non-up file: %q", name)
		}
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

// TestApplyAndDown exercises the real golang-migrate driver against a
// live postgres instance. golang-migrate issues advisory locks and its
// own schema_migrations bookkeeping that sqlmock cannot fake
// convincingly, so this test requires MIGRATIONS_TEST_DSN and is
// skipped otherwise (CI wires it against a disposable container).
func TestApplyAndDown(t *testing.T) {
	dsn := os.Getenv("MIGRATIONS_TEST_DSN")
	if dsn == "" {
		t.Skip("MIGRATIONS_TEST_DSN not set, skipping live postgres migration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Apply(db); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := Apply(db); err != nil {
		t.Fatalf("apply (idempotent re-run): %v", err)
	}
	if err := Down(db); err != nil {
		t.Fatalf("down: %v", err)
	}
}
