package migrations

import (
	"testing"
	"testing/fstest"
)

func TestStatements(t *testing.T) {
	input := `-- header; with a semicolon
CREATE TABLE a (x Int64) ENGINE = MergeTree() ORDER BY x;

-- second
CREATE TABLE b (y String DEFAULT 'a;b', z String DEFAULT 'it''s') ENGINE = MergeTree() ORDER BY y;
SELECT 'trailing \' quote;'`

	got := statements(input)
	want := []string{
		"CREATE TABLE a (x Int64) ENGINE = MergeTree() ORDER BY x",
		"CREATE TABLE b (y String DEFAULT 'a;b', z String DEFAULT 'it''s') ENGINE = MergeTree() ORDER BY y",
		`SELECT 'trailing \' quote;'`,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d statements, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}

	if got := statements("-- only a comment\n\n;;"); len(got) != 0 {
		t.Errorf("expected no statements, got %q", got)
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db != "ledger" {
		t.Errorf("database = %q, want ledger", db)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("expected error for dsn without database")
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000/a`b"); err == nil {
		t.Error("expected error for backquote in database name")
	}
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql": {Data: []byte("CREATE TABLE b ();")},
		"pg/001_a.sql": {Data: []byte("CREATE TABLE a ();")},
		"pg/003_c.sql": {Data: []byte("  \n")},
		"pg/README.md": {Data: []byte("notes")},
		"pg/sub/x.sql": {Data: []byte("CREATE TABLE x ();")},
	}

	files, err := load(fsys, "pg")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %d: %+v", len(files), files)
	}
	if files[0].name != "001_a.sql" || files[1].name != "002_b.sql" {
		t.Errorf("unexpected order: %s, %s", files[0].name, files[1].name)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	if err != nil {
		t.Fatalf("load postgres: %v", err)
	}
	var names []string
	for _, m := range pg {
		names = append(names, m.name)
	}
	want := []string{"001_accounts.sql", "002_transactions.sql", "003_processed_signatures.sql"}
	if len(names) != len(want) {
		t.Fatalf("postgres migrations = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("postgres migration %d = %s, want %s", i, names[i], want[i])
		}
	}

	ch, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("load clickhouse: %v", err)
	}
	if len(ch) == 0 {
		t.Fatal("no embedded clickhouse migrations")
	}
	for _, m := range ch {
		if n := len(statements(m.sql)); n == 0 {
			t.Errorf("%s: no statements", m.name)
		}
	}
}
