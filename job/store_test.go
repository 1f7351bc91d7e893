package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "jobs.json")
	store := NewStore(path)

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load of missing file must succeed: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty queue, got %d jobs", len(loaded))
	}

	jobs := []*Job{
		NewJob("/tmp/b.wav", 2*time.Second, 2),
		NewJob("/tmp/a.wav", time.Second, 1),
	}
	jobs[0].Status = StatusCompleted
	jobs[0].ResultText = "hello"
	if err := store.Save(jobs); err != nil {
		t.Fatal(err)
	}

	loaded, err = store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(loaded))
	}
	if loaded[0].Seq != 1 || loaded[1].Seq != 2 {
		t.Error("expected jobs sorted by seq")
	}
	if loaded[1].ResultText != "hello" {
		t.Errorf("expected result text preserved, got %q", loaded[1].ResultText)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestStoreOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	store := NewStore(path)

	if err := store.Save([]*Job{NewJob("/tmp/a.wav", 0, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(nil); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty queue after overwrite, got %d", len(loaded))
	}
}
