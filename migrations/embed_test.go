package migrations

import "testing"

func TestEmbeddedMigrationsPresent(t *testing.T) {
	// Given: The embedded filesystem
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	if len(entries) == 0 {
		t.Fatal("no migration files embedded")
	}

	found := false
	for _, e := range entries {
		if e.Name() == "001_initial_schema.sql" {
			found = true
		}
	}
	if !found {
		t.Error("001_initial_schema.sql not found in embedded FS")
	}
}
