// Package testutil provides shared test helpers for setting up storages and catalogs.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/filedesk/internal/catalog"
	"github.com/starford/filedesk/internal/resource"
	"github.com/starford/filedesk/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestCatalog creates a temporary SQLite catalog that is automatically closed.
func TestCatalog(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestLocalStorage creates a temporary directory with an FS driver on it.
func TestLocalStorage(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fsd, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fsd
}

// TestFactory builds a factory with a writable local storage as uid 1 and
// a read-only in-memory storage as uid 2. It returns the directory behind
// storage 1.
func TestFactory(t *testing.T) (*resource.Factory, *catalog.DB, string) {
	t.Helper()
	db := TestCatalog(t)
	dir := t.TempDir()
	f, err := resource.NewFactory(context.Background(), []resource.Config{
		{UID: 1, Name: "local", Driver: "local", Writable: true, Options: map[string]any{"base_path": dir}},
		{UID: 2, Name: "archive", Driver: "memory"},
	}, db, Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, db, dir
}
