package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// MockCommandRunner implements CommandRunner interface for testing
type MockCommandRunner struct {
	mu       sync.Mutex
	commands []string

	// outputs are returned by Output, keyed by binary name
	outputs map[string][]byte
	errors  map[string]error

	// runFn, when set, handles Run calls
	runFn func(dir string, stdout io.Writer, args []string) error
}

func (m *MockCommandRunner) record(name string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
}

func (m *MockCommandRunner) Run(ctx context.Context, dir string, stdout io.Writer, name string, args ...string) error {
	m.record(name, args)
	if m.runFn != nil {
		return m.runFn(dir, stdout, args)
	}
	return nil
}

func (m *MockCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(name, args)
	if err, ok := m.errors[name]; ok {
		return nil, err
	}
	if out, ok := m.outputs[name]; ok {
		return out, nil
	}
	return []byte("success"), nil
}

func (m *MockCommandRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func TestLastLineWriter(t *testing.T) {
	w := &lastLineWriter{}
	_, _ = w.Write([]byte("Input #0, mov,mp4\n  Duration: 00:00:10.00\n"))
	assert.Equal(t, "Duration: 00:00:10.00", w.Last())

	_, _ = w.Write([]byte("frame=  10\rframe=  20\r\n\n"))
	assert.Equal(t, "frame=  20", w.Last())

	_, _ = w.Write([]byte("input.mp4: Invalid data found when processing input"))
	assert.Equal(t, "input.mp4: Invalid data found when processing input", w.Last())
}

func TestExecError(t *testing.T) {
	err := &ExecError{Command: "ffmpeg", LastLine: "Conversion failed!", Err: fmt.Errorf("exit status 1")}
	assert.Equal(t, "ffmpeg failed: Conversion failed!", err.Error())

	err = &ExecError{Command: "ffmpeg", Err: fmt.Errorf("exit status 1")}
	assert.Equal(t, "ffmpeg failed: exit status 1", err.Error())
	assert.EqualError(t, err.Unwrap(), "exit status 1")
}
