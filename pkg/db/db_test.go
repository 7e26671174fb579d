package db

import (
	"path/filepath"
	"testing"
)

func TestInitCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "milepost.db")

	d, err := Init(path)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer d.Close()

	version, err := d.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}

	for _, table := range []string{"persistent_state", "trips"} {
		var name string
		err := d.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestInitIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "milepost.db")

	d, err := Init(path)
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if _, err := d.Exec("INSERT INTO persistent_state (key, value) VALUES ('k', 'v')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	d.Close()

	d2, err := Init(path)
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	defer d2.Close()

	var v string
	if err := d2.QueryRow("SELECT value FROM persistent_state WHERE key='k'").Scan(&v); err != nil {
		t.Fatalf("select after reopen: %v", err)
	}
	if v != "v" {
		t.Errorf("value = %q, want v", v)
	}
}
