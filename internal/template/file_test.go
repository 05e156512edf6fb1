package template

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/mderb/internal/apperr"
	"github.com/starford/mderb/internal/render"
)

// memWriter records writes in memory.
type memWriter struct {
	mu    sync.Mutex
	files map[string]string
	calls int
}

func newMemWriter() *memWriter {
	return &memWriter{files: map[string]string{}}
}

func (w *memWriter) Write(path string, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[path] = string(content)
	w.calls++
	return nil
}

func (w *memWriter) get(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.files[path]
	return s, ok
}

var upper = render.Func(func(_ context.Context, tpl string, _ time.Duration) (string, error) {
	return strings.ToUpper(tpl), nil
})

var failing = render.Func(func(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", &render.Error{Stderr: "-:1: syntax error", Line: 0}
})

func TestOutputPath(t *testing.T) {
	cases := map[string]string{
		"doc.md.erb":                          "doc.md",
		filepath.Join("a", "b", "x.md.erb"):   filepath.Join("a", "b", "x.md"),
		filepath.Join("v.md.erb", "y.md.erb"): filepath.Join("v.md.erb", "y.md"),
	}
	for in, want := range cases {
		if got := OutputPath(in); got != want {
			t.Errorf("OutputPath(%q) = %q, want %q", in, got, want)
		}
		if OutputPath(in) != OutputPath(in) {
			t.Error("OutputPath must be deterministic")
		}
	}
}

func TestIsTemplate(t *testing.T) {
	if !IsTemplate("doc.md.erb") || !IsTemplate(filepath.Join("x", "y.md.erb")) {
		t.Error("expected template")
	}
	if IsTemplate("doc.md") || IsTemplate(".md.erb") || IsTemplate("refs.mderb.json") {
		t.Error("unexpected template")
	}
}

func TestFile_WatchUnwatchRestoresContext(t *testing.T) {
	f := NewFile("doc.md.erb")
	before := f.ContextValue()
	if f.Watched() || before != ContextUnwatched {
		t.Fatalf("initial state = %v / %q", f.Watched(), before)
	}
	f.Watch()
	if !f.Watched() || f.ContextValue() != ContextWatched {
		t.Error("watch did not transition")
	}
	f.Unwatch()
	if f.ContextValue() != before {
		t.Errorf("context = %q, want %q", f.ContextValue(), before)
	}
}

func TestFile_CompileWrite(t *testing.T) {
	w := newMemWriter()
	f := NewFile("doc.md.erb")

	out, err := f.CompileWrite(context.Background(), upper, w, "hello", time.Second)
	if err != nil {
		t.Fatalf("CompileWrite: %v", err)
	}
	if out != "HELLO" {
		t.Errorf("out = %q", out)
	}
	if got, _ := w.get("doc.md"); got != "HELLO" {
		t.Errorf("written = %q", got)
	}
}

func TestFile_CompileWriteFailureKeepsOutput(t *testing.T) {
	w := newMemWriter()
	f := NewFile("doc.md.erb")
	_, _ = f.CompileWrite(context.Background(), upper, w, "first", time.Second)

	_, err := f.CompileWrite(context.Background(), failing, w, "<% broken", time.Second)
	if !errors.Is(err, apperr.ErrRenderFailed) {
		t.Fatalf("err = %v, want ErrRenderFailed", err)
	}
	if got, _ := w.get("doc.md"); got != "FIRST" {
		t.Errorf("previous output changed to %q", got)
	}
	if w.calls != 1 {
		t.Errorf("writes = %d, want 1", w.calls)
	}
}

func TestFile_StaleCompileDoesNotOverwrite(t *testing.T) {
	w := newMemWriter()
	f := NewFile("doc.md.erb")

	release := make(chan struct{})
	slow := render.Func(func(_ context.Context, tpl string, _ time.Duration) (string, error) {
		<-release
		return tpl, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.CompileWrite(context.Background(), slow, w, "old", time.Second)
		done <- err
	}()

	// Wait until the slow compile has taken its generation.
	deadline := time.Now().Add(2 * time.Second)
	for f.gen.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := f.CompileWrite(context.Background(), upper, w, "new", time.Second); err != nil {
		t.Fatalf("newer compile: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("old compile err = %v, want ErrStale", err)
	}
	if got, _ := w.get("doc.md"); got != "NEW" {
		t.Errorf("output = %q, want NEW", got)
	}
}

func TestFile_StaleFailedCompileIsStale(t *testing.T) {
	w := newMemWriter()
	f := NewFile("doc.md.erb")

	release := make(chan struct{})
	failing := render.Func(func(_ context.Context, _ string, _ time.Duration) (string, error) {
		<-release
		return "", &render.Error{Stderr: "syntax error"}
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.CompileWrite(context.Background(), failing, w, "old", time.Second)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.gen.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := f.CompileWrite(context.Background(), upper, w, "new", time.Second); err != nil {
		t.Fatalf("newer compile: %v", err)
	}
	close(release)

	err := <-done
	if !errors.Is(err, ErrStale) {
		t.Errorf("old compile err = %v, want ErrStale", err)
	}
	if errors.Is(err, apperr.ErrRenderFailed) {
		t.Error("stale failure must not report a render failure")
	}
	if got, _ := w.get("doc.md"); got != "NEW" {
		t.Errorf("output = %q, want NEW", got)
	}
}
