package dirscan

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, root, rel, contents string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotCapturesRegularFiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "hello")
	write(t, root, "nested/b.txt", "world")

	state, err := Snapshot(root)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(state) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(state), Keys(state))
	}
	if _, ok := state["a.txt"]; !ok {
		t.Fatalf("missing a.txt")
	}
	if _, ok := state["nested/b.txt"]; !ok {
		t.Fatalf("missing nested/b.txt")
	}
}

func TestComputeDiffClassifiesKeys(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "hello")
	write(t, root, "b.txt", "world")
	old, err := Snapshot(root)
	if err != nil {
		t.Fatalf("snapshot old: %v", err)
	}

	write(t, root, "a.txt", "HELLO")
	if err := os.Remove(filepath.Join(root, "b.txt")); err != nil {
		t.Fatal(err)
	}
	write(t, root, "c.txt", "new")
	cur, err := Snapshot(root)
	if err != nil {
		t.Fatalf("snapshot new: %v", err)
	}

	diff := Compute(old, cur)
	if _, ok := diff.Updated["a.txt"]; !ok {
		t.Errorf("expected a.txt to be updated")
	}
	if _, ok := diff.Deleted["b.txt"]; !ok {
		t.Errorf("expected b.txt to be deleted")
	}
	if _, ok := diff.Created["c.txt"]; !ok {
		t.Errorf("expected c.txt to be created")
	}
}

func TestComputeIgnoresTouchWithoutContentChange(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "hello")
	old, err := Snapshot(root)
	if err != nil {
		t.Fatalf("snapshot old: %v", err)
	}

	// Re-write identical content; only mtime moves forward.
	write(t, root, "a.txt", "hello")
	cur, err := Snapshot(root)
	if err != nil {
		t.Fatalf("snapshot new: %v", err)
	}

	diff := Compute(old, cur)
	if len(diff.Updated) != 0 {
		t.Errorf("expected no updates for touched-but-unchanged file, got %v", diff.Updated)
	}
}
