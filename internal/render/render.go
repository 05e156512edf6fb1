// Package render runs the external ERB engine that turns template text into
// Markdown.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Renderer turns template text into output text. Implementations must return
// once timeout has elapsed.
type Renderer interface {
	Render(ctx context.Context, template string, timeout time.Duration) (string, error)
}

// Func adapts a function to the Renderer interface.
type Func func(ctx context.Context, template string, timeout time.Duration) (string, error)

// Render calls f.
func (f Func) Render(ctx context.Context, template string, timeout time.Duration) (string, error) {
	return f(ctx, template, timeout)
}

// Error is a render failure reported by the engine itself.
type Error struct {
	Stderr string
	// Line is the 0-based template line the engine blamed, or -1.
	Line int
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(firstLine(e.Stderr))
	if msg == "" {
		msg = "engine exited with an error"
	}
	return "render: " + msg
}

// Exec renders by piping the template into an external command (erb by default).
type Exec struct {
	command string
	args    []string
}

// NewExec returns an Exec renderer for command. An empty command means "erb".
func NewExec(command string, args ...string) *Exec {
	if command == "" {
		command = "erb"
	}
	return &Exec{command: command, args: args}
}

// Available reports whether the command can be found on PATH.
func (e *Exec) Available() bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

// Render runs the engine with template on stdin and returns its stdout.
func (e *Exec) Render(ctx context.Context, template string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = strings.NewReader(template)
	cmd.WaitDelay = 100 * time.Millisecond
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("render: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &Error{Stderr: stderr.String(), Line: ErrorLine(stderr.String())}
		}
		return "", fmt.Errorf("render: run %s: %w", e.command, err)
	}
	return stdout.String(), nil
}

// errorLocRe matches the location prefix of an erb/ruby error, e.g.
// "-:5:in `<main>': ..." or "./doc.md.erb:3: syntax error".
var errorLocRe = regexp.MustCompile(`^[^:\s]*:(\d+):`)

// ErrorLine extracts the 0-based template line from engine stderr, or -1.
func ErrorLine(stderr string) int {
	m := errorLocRe.FindStringSubmatch(strings.TrimSpace(firstLine(stderr)))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return -1
	}
	return n - 1
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
