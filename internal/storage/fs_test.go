package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempWorkspace(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempWorkspace(t)
	content := []byte("# Hello\n<%= 1 + 1 %>\n")
	if err := s.Write("doc.md.erb", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("doc.md.erb")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWorkspace(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteRejectsDirectoryTarget(t *testing.T) {
	s := tempWorkspace(t)
	if err := os.MkdirAll(filepath.Join(s.Root(), "out.md"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("out.md", []byte("x")); err == nil {
		t.Error("expected error writing over a directory")
	}
}

func TestWrite_KeepsExistingMode(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("out.md", []byte("v1"))
	abs := filepath.Join(s.Root(), "out.md")
	if err := os.Chmod(abs, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("out.md", []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestListTemplates(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("a.md.erb", []byte("a"))
	_ = s.Write("sub/b.md.erb", []byte("b"))
	_ = s.Write("sub/b.md", []byte("compiled"))
	_ = s.Write(".hidden/c.md.erb", []byte("c"))
	_ = s.Write("readme.txt", []byte("not a template"))

	items, err := s.List(TemplatePattern)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2 (%v)", len(items), items)
	}
	if items[0].Path != "a.md.erb" || items[1].Path != filepath.Join("sub", "b.md.erb") {
		t.Errorf("paths = %q, %q", items[0].Path, items[1].Path)
	}
	if items[0].Checksum == "" {
		t.Error("expected checksum")
	}
}

func TestListReferences(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("refs.mderb.json", []byte("[]"))
	_ = s.Write("docs/refs.mderb.json", []byte("[]"))
	_ = s.Write("docs/other.json", []byte("[]"))

	items, err := s.List(ReferencePattern)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2", len(items))
	}
}

func TestListInvalidPattern(t *testing.T) {
	s := tempWorkspace(t)
	if _, err := s.List("[unclosed"); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempWorkspace(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".mderb-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/mderb-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "mderb-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
