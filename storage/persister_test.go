package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPersisterSaveCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	p := NewPersister(root)

	path, err := p.Save([]byte("hello"), "books", "1. Алиби.txt")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	want := filepath.Join(root, "books", "1. Алиби.txt")
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("content = %q, want hello", data)
	}
}

func TestPersisterSaveExistingDirectoryAndOverwrite(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := NewPersister(root)

	if _, err := p.Save([]byte("first version, longer"), "images", "9.jpg"); err != nil {
		t.Fatalf("first save: %v", err)
	}
	path, err := p.Save([]byte("second"), "images", "9.jpg")
	if err != nil {
		t.Fatalf("second save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("content = %q, want overwrite", data)
	}
	entries, err := os.ReadDir(filepath.Join(root, "images"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestPersisterSaveSanitizesFilename(t *testing.T) {
	root := t.TempDir()
	p := NewPersister(root)

	path, err := p.Save([]byte("x"), "books", "3. Fantasy/Adventure: Vol. 1.txt")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, "books") {
		t.Fatalf("file escaped its directory: %q", path)
	}
	if filepath.Base(path) != "3. FantasyAdventure Vol. 1.txt" {
		t.Fatalf("filename = %q", filepath.Base(path))
	}
}

func TestPersisterSaveIOFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "books")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	p := NewPersister(root)
	_, err := p.Save([]byte("x"), "books", "1. Title.txt")
	if err == nil {
		t.Fatalf("expected error when directory path is a file")
	}
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T", err)
	}
	if ioErr.Op != "create directory" {
		t.Fatalf("op = %q, want create directory", ioErr.Op)
	}
}
