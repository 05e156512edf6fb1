package render

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestErrorLine(t *testing.T) {
	cases := map[string]int{
		"./DOG.md.erb:5:in `<main>': undefined local variable or method `hoge' (NameError)\n\tfrom erb.rb:905": 4,
		"-:3: syntax error, unexpected end-of-input": 2,
		"-:0: weird":                                 -1,
		"something else entirely":                    -1,
		"":                                           -1,
	}
	for in, want := range cases {
		if got := ErrorLine(in); got != want {
			t.Errorf("ErrorLine(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Stderr: "\n-:2: boom\nmore", Line: 1}
	if e.Error() != "render: -:2: boom" {
		t.Errorf("Error() = %q", e.Error())
	}
	if (&Error{}).Error() == "render: " {
		t.Error("empty stderr should still produce a message")
	}
}

func TestFunc(t *testing.T) {
	var r Renderer = Func(func(_ context.Context, tpl string, _ time.Duration) (string, error) {
		return strings.ToUpper(tpl), nil
	})
	out, err := r.Render(context.Background(), "abc", time.Second)
	if err != nil || out != "ABC" {
		t.Errorf("Render = %q, %v", out, err)
	}
}

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExec_Success(t *testing.T) {
	requireCommand(t, "cat")
	r := NewExec("cat")
	out, err := r.Render(context.Background(), "hello\n", time.Second)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "hello\n" {
		t.Errorf("out = %q", out)
	}
}

func TestExec_Failure(t *testing.T) {
	requireCommand(t, "sh")
	r := NewExec("sh", "-c", "echo '-:7: syntax error' >&2; exit 1")
	_, err := r.Render(context.Background(), "", time.Second)
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if rerr.Line != 6 {
		t.Errorf("line = %d, want 6", rerr.Line)
	}
}

func TestExec_Timeout(t *testing.T) {
	requireCommand(t, "sleep")
	r := NewExec("sleep", "5")
	start := time.Now()
	_, err := r.Render(context.Background(), "", 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("render did not honor timeout")
	}
}

func TestExec_MissingCommand(t *testing.T) {
	r := NewExec("mderb-no-such-engine")
	if r.Available() {
		t.Fatal("command should not be available")
	}
	if _, err := r.Render(context.Background(), "", time.Second); err == nil {
		t.Error("expected error for missing command")
	}
}
