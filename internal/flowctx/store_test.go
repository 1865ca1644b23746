package flowctx

import (
	"path/filepath"
	"testing"
)

func TestFileStoreSaveLoad(t *testing.T) {
	store := NewFileStore(t.TempDir())
	cp := &Checkpoint{Timestamp: "t", CurrentNode: "n"}
	if err := store.Save("run-1", cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CurrentNode != "n" {
		t.Fatalf("CurrentNode=%q, want n", loaded.CurrentNode)
	}
}

func TestDigestIsStableAndContentAddressed(t *testing.T) {
	a := &Checkpoint{Timestamp: "t", CurrentNode: "n"}
	b := &Checkpoint{Timestamp: "t", CurrentNode: "n"}
	c := &Checkpoint{Timestamp: "t", CurrentNode: "other"}

	da, err := Digest(a)
	if err != nil {
		t.Fatalf("Digest(a): %v", err)
	}
	db, err := Digest(b)
	if err != nil {
		t.Fatalf("Digest(b): %v", err)
	}
	dc, err := Digest(c)
	if err != nil {
		t.Fatalf("Digest(c): %v", err)
	}
	if da != db {
		t.Fatalf("identical checkpoints should digest identically: %q != %q", da, db)
	}
	if da == dc {
		t.Fatal("different checkpoints should not digest identically")
	}
}

func TestSQLiteStoreSaveLoadHistory(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	first := &Checkpoint{Timestamp: "t1", CurrentNode: "a"}
	second := &Checkpoint{Timestamp: "t2", CurrentNode: "b"}
	if err := store.Save("run-1", first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := store.Save("run-1", second); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	loaded, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.CurrentNode != "b" {
		t.Fatalf("Load should return the most recently saved checkpoint, got %q", loaded.CurrentNode)
	}

	history, err := store.History("run-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History()=%v, want 2 entries", history)
	}
}
