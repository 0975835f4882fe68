package redisbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"testing"
)

// fakeRuntime writes a shell script that answers `ps` with two labelled
// containers and appends every invocation to a log file. Stopping a
// container named in failStop exits 1.
func fakeRuntime(t *testing.T, failStop ...string) (bin, logFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script runtime requires a POSIX shell")
	}
	dir := t.TempDir()
	logFile = filepath.Join(dir, "calls.log")
	bin = filepath.Join(dir, "fake-runtime")
	script := "#!/bin/sh\n" +
		"echo \"$*\" >> '" + logFile + "'\n" +
		"if [ \"$1\" = ps ]; then\n" +
		"  printf 'redisbox-a1\\tredisbox-a\\tUp 3 seconds\\t127.0.0.1:45001->6379/tcp\\n'\n" +
		"  printf 'redisbox-b2\\tredisbox-b\\tUp 1 minute\\t\\n'\n" +
		"fi\n"
	for _, name := range failStop {
		script += "if [ \"$1\" = stop ] && [ \"$4\" = '" + name + "' ]; then echo 'Error: cannot stop' >&2; exit 1; fi\n"
	}
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}
	return bin, logFile
}

func readCalls(t *testing.T, logFile string) []string {
	t.Helper()
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read call log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestListManagedUsesLabelFilter(t *testing.T) {
	t.Parallel()

	bin, logFile := fakeRuntime(t)
	got, err := ListManaged(context.Background(), Options{Runtime: bin, BuildRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("ListManaged: %v", err)
	}
	if len(got) != 2 || got[0].Name != "redisbox-a1" || got[1].Image != "redisbox-b" {
		t.Fatalf("containers = %+v", got)
	}
	calls := readCalls(t, logFile)
	if len(calls) != 1 || !strings.HasPrefix(calls[0], "ps --filter label=redisbox.managed=1 --format") {
		t.Fatalf("calls = %q", calls)
	}
}

func TestStopManagedForceStopsEveryContainer(t *testing.T) {
	t.Parallel()

	bin, logFile := fakeRuntime(t)
	names, err := StopManaged(context.Background(), Options{Runtime: bin, BuildRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("StopManaged: %v", err)
	}
	if want := []string{"redisbox-a1", "redisbox-b2"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	var stops []string
	for _, call := range readCalls(t, logFile) {
		if strings.HasPrefix(call, "stop ") {
			stops = append(stops, call)
		}
	}
	sort.Strings(stops)
	if want := []string{"stop -t 1 redisbox-a1", "stop -t 1 redisbox-b2"}; !reflect.DeepEqual(stops, want) {
		t.Fatalf("stops = %v, want %v", stops, want)
	}
}

func TestStopManagedReportsFailedStops(t *testing.T) {
	t.Parallel()

	bin, _ := fakeRuntime(t, "redisbox-b2")
	names, err := StopManaged(context.Background(), Options{Runtime: bin, BuildRoot: t.TempDir()})
	if want := []string{"redisbox-a1"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	var failures *StopFailures
	if !errors.As(err, &failures) {
		t.Fatalf("expected *StopFailures, got %v", err)
	}
	if len(failures.Errs) != 1 || !strings.Contains(failures.Errs[0].Error(), "redisbox-b2") {
		t.Fatalf("failures = %v", failures.Errs)
	}
	if code, ok := IsCommandError(err); !ok || code != 1 {
		t.Fatalf("IsCommandError = %d, %v; want 1, true", code, ok)
	}
}
