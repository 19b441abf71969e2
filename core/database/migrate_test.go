package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/m3rciful/flowbot/core/config"
)

func TestSelectApplied(t *testing.T) {
	set := migrationSet{files: []string{"0001_a.up.sql", "0002_b.up.sql", "0003_c.up.sql"}}
	got := set.between(1, 3)
	if len(got) != 2 || got[0] != "0002_b.up.sql" {
		t.Fatalf("between = %v", got)
	}
	if len(set.between(3, 3)) != 0 {
		t.Fatal("nothing should be applied without a version change")
	}
	if parseVersion("bogus.up.sql") != 0 {
		t.Fatal("bogus name parsed")
	}
}

func TestMigrateSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowbot.db")
	dir, err := filepath.Abs("../../migrations")
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if err := MigrateSQLite(context.Background(), path, dir); err != nil {
		t.Fatalf("MigrateSQLite: %v", err)
	}
	// second run is a no-op
	if err := MigrateSQLite(context.Background(), path, dir); err != nil {
		t.Fatalf("MigrateSQLite again: %v", err)
	}

	db, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM state_envelopes`); err != nil {
		t.Fatalf("table missing: %v", err)
	}
}

func TestLoadMigrationSet(t *testing.T) {
	set, err := loadMigrationSet("../../migrations")
	if err != nil {
		t.Fatalf("loadMigrationSet: %v", err)
	}
	if !filepath.IsAbs(set.dir) || len(set.files) != 1 || set.files[0] != "0001_state_envelopes.up.sql" {
		t.Fatalf("set = %+v", set)
	}
}

func TestMigrateSQLiteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "flowbot.db")
	if err := MigrateSQLite(ctx, path, "../../migrations"); err == nil {
		t.Fatal("cancelled migration reported success")
	}
}

func TestPostgresURLEscapes(t *testing.T) {
	got := PostgresURL(configFor("u", "p@ss"))
	want := "postgres://u:p%40ss@db:5432/flow?sslmode=disable"
	if got != want {
		t.Fatalf("PostgresURL = %q", got)
	}
}

func configFor(user, pass string) config.DatabaseConfig {
	return config.DatabaseConfig{Host: "db", Port: "5432", User: user, Password: pass, Name: "flow", SSLMode: "disable"}
}
