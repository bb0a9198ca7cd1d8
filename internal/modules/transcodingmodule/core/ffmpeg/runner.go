package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner interface for command execution (enables mocking in tests)
type CommandRunner interface {
	// Run executes name in dir, copying stdout to the given writer.
	// A non-zero exit is reported as *ExecError.
	Run(ctx context.Context, dir string, stdout io.Writer, name string, args ...string) error

	// Output executes name and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecError is a failed command together with the last diagnostic line it
// printed on stderr.
type ExecError struct {
	Command  string
	LastLine string
	Err      error
}

func (e *ExecError) Error() string {
	if e.LastLine != "" {
		return fmt.Sprintf("%s failed: %s", e.Command, e.LastLine)
	}
	return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// DefaultCommandRunner implements CommandRunner using os/exec
type DefaultCommandRunner struct{}

// Run executes a command using os/exec
func (r *DefaultCommandRunner) Run(ctx context.Context, dir string, stdout io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if stdout != nil {
		cmd.Stdout = stdout
	}
	stderr := &lastLineWriter{}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExecError{Command: name, LastLine: stderr.Last(), Err: err}
	}
	return nil
}

// Output executes a command and returns stdout
func (r *DefaultCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &lastLineWriter{}
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return out, &ExecError{Command: name, LastLine: stderr.Last(), Err: err}
	}
	return out, nil
}

// lastLineWriter keeps only the most recent non-empty line written to it.
type lastLineWriter struct {
	mu      sync.Mutex
	partial []byte
	last    string
}

func (w *lastLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexAny(w.partial, "\r\n")
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.partial[:i])); line != "" {
			w.last = line
		}
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// Last returns the last complete or trailing partial line.
func (w *lastLineWriter) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if line := strings.TrimSpace(string(w.partial)); line != "" {
		return line
	}
	return w.last
}
