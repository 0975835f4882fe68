package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/strongdm/redisbox"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := newRootCmd().Execute()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = redisbox.FlushTelemetry(ctx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "redisbox: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process status: the runtime's own
// code for a failed runtime command, 2 for bad invocations, 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := redisbox.IsCommandError(err); ok {
		return code
	}
	var usage *usageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

// usageError marks bad invocations so they exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func printVersion(w io.Writer) {
	shortHash := commit
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}
	fmt.Fprintf(w, "version: %s\n", version)
	fmt.Fprintf(w, "git hash: %s\n", shortHash)
	fmt.Fprintf(w, "build date: %s\n", buildDate)
}
