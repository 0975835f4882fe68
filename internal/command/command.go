package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	shellquote "github.com/kballard/go-shellquote"
)

// waitDelay bounds how long Run waits for output pipes to close after the
// process has been killed by a cancelled context.
const waitDelay = 2 * time.Second

// ErrInvalidArgument is returned when a command is missing its program name.
var ErrInvalidArgument = errors.New("invalid argument")

// Command describes a single external program invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Verbose bool
}

// String renders the command line as a shell would accept it.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// ExitCodeError reports a command that ran to completion with a non-zero
// status. Only the status drives control flow; the captured output is kept
// for diagnostics.
type ExitCodeError struct {
	Name   string
	Args   []string
	Code   int
	output string
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s exited with code %d", shellquote.Join(append([]string{e.Name}, e.Args...)...), e.Code)
}

// ExitCode returns the status the process exited with.
func (e *ExitCodeError) ExitCode() int {
	return e.Code
}

// Output returns the combined stdout and stderr captured before the failure.
func (e *ExitCodeError) Output() string {
	return e.output
}

// Runner executes external programs and collects their combined output.
// Stdout and Stderr receive a live copy of the output for verbose commands;
// they default to the process streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

// New returns a Runner that echoes verbose output to the process streams.
func New(logger *log.Logger) *Runner {
	return &Runner{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}
}

// Run starts c, waits for it to exit and returns stdout and stderr
// concatenated in arrival order. A non-zero exit yields *ExitCodeError.
func (r *Runner) Run(ctx context.Context, c Command) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("%w: no command specified", ErrInvalidArgument)
	}
	if c.Verbose && r.Logger != nil {
		r.Logger.Printf("run %s", c)
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay

	var out lockedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if c.Verbose {
		cmd.Stdout = io.MultiWriter(&out, orDiscard(r.Stdout))
		cmd.Stderr = io.MultiWriter(&out, orDiscard(r.Stderr))
	}

	err := cmd.Run()
	if err == nil {
		return out.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.String(), fmt.Errorf("%s: %w", c, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ExitCodeError{
			Name:   c.Name,
			Args:   append([]string(nil), c.Args...),
			Code:   exitErr.ExitCode(),
			output: out.String(),
		}
	}
	return "", fmt.Errorf("start %s: %w", c.Name, err)
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// lockedBuffer serialises writes from the stdout and stderr copiers, which
// exec runs on separate goroutines once the writers differ.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
