package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/revittco/sare/internal/store"
)

func TestEmbeddedMigrations(t *testing.T) {
	ms, err := embeddedMigrations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ms) == 0 || ms[0].version != 1 || ms[0].name != "001_init.sql" {
		t.Fatalf("migrations = %+v", ms)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].version <= ms[i-1].version {
			t.Errorf("migrations out of order: %+v", ms)
		}
	}
}

func TestSchemaVersion(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx, filepath.Join(t.TempDir(), "v.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ms, _ := embeddedMigrations()
	v, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != ms[len(ms)-1].version {
		t.Errorf("version = %d, want %d", v, ms[len(ms)-1].version)
	}
}

func TestMigrate_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "newer.db")
	db, err := New(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.db.ExecContext(ctx,
		`INSERT INTO schema_version (version, name, applied_at) VALUES (999, 'future.sql', '')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	_, err = New(ctx, path)
	if err == nil {
		t.Fatal("expected error opening newer archive")
	}
	if !errors.Is(err, store.ErrSchemaTooNew) {
		t.Errorf("error = %v; want ErrSchemaTooNew", err)
	}
}
