package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external media tools. The indirection exists so pipeline
// logic can be tested without ffmpeg installed.
type Runner interface {
	// Run executes the command. When onStdoutLine is non-nil each stdout
	// line is passed to it as it arrives, which is how ffmpeg progress
	// reporting (-progress pipe:1) is consumed.
	Run(ctx context.Context, name string, args []string, onStdoutLine func(line string)) error
	// Output executes the command and returns its stdout.
	Output(ctx context.Context, name string, args []string) ([]byte, error)
}

// CommandError carries the captured stderr tail of a failed tool invocation.
type CommandError struct {
	Name   string
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

const stderrTailLimit = 4096

// execRunner runs commands with exec.CommandContext, so cancelling the
// context kills the process.
type execRunner struct{}

// NewRunner returns the production Runner.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, name string, args []string, onStdoutLine func(string)) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr tailBuffer
	cmd.Stderr = &stderr

	if onStdoutLine == nil {
		cmd.Stdout = nil
		if err := cmd.Run(); err != nil {
			return &CommandError{Name: name, Err: err, Stderr: stderr.String()}
		}
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: start: %w", name, err)
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onStdoutLine(scanner.Text())
	}
	if err := cmd.Wait(); err != nil {
		return &CommandError{Name: name, Err: err, Stderr: stderr.String()}
	}
	return nil
}

func (execRunner) Output(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr tailBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Name: name, Err: err, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

// tailBuffer keeps only the last stderrTailLimit bytes written, enough for
// the error lines ffmpeg prints before exiting.
type tailBuffer struct {
	data []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if len(b.data) > stderrTailLimit {
		b.data = b.data[len(b.data)-stderrTailLimit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.data) }
