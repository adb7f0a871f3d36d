package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ratiowatch/internal/ratio"
)

func TestStoreWithoutPool(t *testing.T) {
	ctx := context.Background()
	var nilStore *Store
	store := NewStore(nil, PairKey("AAA", "BBB"))

	if err := store.Update(ctx, []ratio.Record{{Ratio: 1}}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Update: expected ErrNotConfigured, got %v", err)
	}
	if _, err := store.ListRecentView(ctx, 10); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListRecentView: expected ErrNotConfigured, got %v", err)
	}
	if _, err := store.ListViewBetween(ctx, time.Time{}, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListViewBetween: expected ErrNotConfigured, got %v", err)
	}
	if _, err := nilStore.InsertAlert(ctx, AlertRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("InsertAlert: expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := store.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TryAdvisoryLock: expected ErrNotConfigured, got %v", err)
	}
	nilStore.Close()
	store.Close()
}

func TestPairKey(t *testing.T) {
	if got := PairKey("ETH-PERP", "ETH-SPOT"); got != "ETH-PERP/ETH-SPOT" {
		t.Fatalf("unexpected pair key %q", got)
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	files, err := MigrationFiles(dir)
	if err != nil {
		t.Fatalf("MigrationFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "0001_a.sql" || filepath.Base(files[1]) != "0002_b.sql" {
		t.Fatalf("unexpected migration order %v", files)
	}
}

func TestShippedMigrationExists(t *testing.T) {
	files, err := MigrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("MigrationFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one shipped migration")
	}
}
