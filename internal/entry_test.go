package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mderb/internal/render"
)

func TestCompile_WritesEveryTemplate(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "docs", "refs.mderb.json"),
		`[{"text": "The Art of Computer Programming", "ref": "https://example.org/taocp", "alias": "knuth"}]`)
	mustWrite(t, filepath.Join(root, "docs", "report.md.erb"), "see [&knuth]")
	mustWrite(t, filepath.Join(root, "broken.md.erb"), "<% oops")

	cfg := NewDefaultConfig()
	cfg.Workspace.Path = root
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "index", "mderb.db")

	renderer := render.Func(func(_ context.Context, tpl string, _ time.Duration) (string, error) {
		if tpl == "<% oops" {
			return "", &render.Error{Stderr: "syntax error", Line: 0}
		}
		return tpl, nil
	})

	results, err := Compile(context.Background(),
		WithConfig(cfg),
		WithRenderer(renderer),
		WithLogOutput(io.Discard),
	)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	out, err := os.ReadFile(filepath.Join(root, "docs", "report.md"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if want := `see <a href="#knuth">(1).</a>`; string(out) != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	if _, err := os.Stat(filepath.Join(root, "broken.md")); !os.IsNotExist(err) {
		t.Errorf("failed compile should not write output, stat err = %v", err)
	}
}

func TestCompile_RequiresConfig(t *testing.T) {
	if _, err := Compile(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
