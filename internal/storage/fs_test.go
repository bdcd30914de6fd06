package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	f, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	return f
}

func writeFile(t *testing.T, f *FS, rel, content string) {
	t.Helper()
	abs := filepath.Join(f.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestNewFSNonexistent(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("NewFS() expected error for nonexistent directory")
	}
}

func TestNewFSNotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.md")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := NewFS(file)
	if err == nil {
		t.Fatal("NewFS() expected error for non-directory root")
	}
}

func TestReadAndList(t *testing.T) {
	f := tempVault(t)
	writeFile(t, f, "note.md", "# Hello")
	writeFile(t, f, "sub/nested.md", "# Nested")

	data, err := f.Read("note.md")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "# Hello" {
		t.Errorf("Read() = %q, want %q", data, "# Hello")
	}

	files, err := f.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List() returned %d files, want 2", len(files))
	}
	for _, fi := range files {
		if fi.ContentHash == "" {
			t.Errorf("List() file %s has empty content hash", fi.Path)
		}
		if strings.Contains(fi.Path, "\\") {
			t.Errorf("List() file %s path not slash-normalized", fi.Path)
		}
	}
}

func TestListSubdirectory(t *testing.T) {
	f := tempVault(t)
	writeFile(t, f, "top.md", "top")
	writeFile(t, f, "projects/a.md", "a")
	writeFile(t, f, "projects/b.md", "b")

	files, err := f.List("projects")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List(projects) returned %d files, want 2", len(files))
	}
	for _, fi := range files {
		if !strings.HasPrefix(fi.Path, "projects/") {
			t.Errorf("List(projects) file %s not under projects/", fi.Path)
		}
	}
}

func TestListSkipsHiddenAndNonMarkdown(t *testing.T) {
	f := tempVault(t)
	writeFile(t, f, "note.md", "note")
	writeFile(t, f, ".obsidian/workspace.json", "{}")
	writeFile(t, f, ".trash/deleted.md", "gone")
	writeFile(t, f, "attachments/image.png", "binary")
	writeFile(t, f, "sub/.hidden/secret.md", "hidden")

	files, err := f.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("List() returned %d files, want 1: %v", len(files), files)
	}
	if files[0].Path != "note.md" {
		t.Errorf("List() = %s, want note.md", files[0].Path)
	}
}

func TestSafePathTraversal(t *testing.T) {
	f := tempVault(t)
	cases := []string{
		"../outside.md",
		"../../etc/passwd",
		"sub/../../outside.md",
	}
	for _, rel := range cases {
		if _, err := f.Read(rel); err == nil {
			t.Errorf("Read(%q) expected traversal error", rel)
		}
	}
	if _, err := f.Read("/etc/passwd"); err == nil {
		t.Error("Read(/etc/passwd) expected absolute-path error")
	}
}

func TestReadMissing(t *testing.T) {
	f := tempVault(t)
	if _, err := f.Read("nope.md"); err == nil {
		t.Fatal("Read() expected error for missing file")
	}
}

func TestStat(t *testing.T) {
	f := tempVault(t)
	writeFile(t, f, "note.md", "body")

	info, err := f.Stat("note.md")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("Stat().Size() = %d, want 4", info.Size())
	}
	if _, err := f.Stat("../escape.md"); err == nil {
		t.Error("Stat() expected traversal error")
	}
}
