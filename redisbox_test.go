package redisbox

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/strongdm/redisbox/internal/configstore"
	"github.com/strongdm/redisbox/internal/lifecycle"
	"github.com/strongdm/redisbox/internal/registry"
)

func TestMain(m *testing.M) {
	WrapTestMain(m)
}

// fakeLauncher stands in for the container runtime with in-process servers.
type fakeLauncher struct {
	reg *registry.Registry

	mu        sync.Mutex
	servers   map[string]*miniredis.Miniredis
	launches  []lifecycle.LaunchRequest
	teardowns []string
	launchErr error
	// deadPort makes Launch return a port nothing listens on.
	deadPort bool
}

func (f *fakeLauncher) Launch(_ context.Context, req lifecycle.LaunchRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, req)
	if f.launchErr != nil {
		return 0, f.launchErr
	}
	srv := miniredis.NewMiniRedis()
	if err := srv.Start(); err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(srv.Port())
	if err != nil {
		srv.Close()
		return 0, err
	}
	f.reg.Register(req.Container)
	if f.deadPort {
		srv.Close()
		return port, nil
	}
	f.servers[req.Container] = srv
	return port, nil
}

func (f *fakeLauncher) Teardown(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns = append(f.teardowns, name)
	if srv, ok := f.servers[name]; ok {
		srv.Close()
		delete(f.servers, name)
	}
}

func (f *fakeLauncher) Host() string {
	return "127.0.0.1"
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

func (f *fakeLauncher) tornDown() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.teardowns...)
}

type stopLog struct {
	mu  sync.Mutex
	ids []string
}

func (s *stopLog) stop(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

func (s *stopLog) stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.ids...)
	sort.Strings(out)
	return out
}

// fakeMu serialises tests that replace the package seams.
var fakeMu sync.Mutex

type harness struct {
	launcher *fakeLauncher
	registry *registry.Registry
	stops    *stopLog
}

func installFakes(t *testing.T) *harness {
	t.Helper()
	fakeMu.Lock()

	stops := &stopLog{}
	reg := registry.New(stops.stop)
	h := &harness{
		launcher: &fakeLauncher{reg: reg, servers: make(map[string]*miniredis.Miniredis)},
		registry: reg,
		stops:    stops,
	}

	seamMu.Lock()
	prevRegistry, prevLauncher, prevSweep, prevBackoff := registryFor, newLauncher, sweepAll, connectBackoff
	registryFor = func(string) *registry.Registry { return reg }
	newLauncher = func(Options, *registry.Registry) launcher { return h.launcher }
	sweepAll = reg.Sweep
	connectBackoff = func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(10*time.Millisecond))
	}
	seamMu.Unlock()

	t.Cleanup(func() {
		h.launcher.mu.Lock()
		for name, srv := range h.launcher.servers {
			srv.Close()
			delete(h.launcher.servers, name)
		}
		h.launcher.mu.Unlock()

		seamMu.Lock()
		registryFor, newLauncher, sweepAll, connectBackoff = prevRegistry, prevLauncher, prevSweep, prevBackoff
		seamMu.Unlock()
		fakeMu.Unlock()
	})
	return h
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		BuildRoot: t.TempDir(),
		Logger:    log.New(io.Discard, "", 0),
	}
}

func TestRuntimeStateFollowsLifecycle(t *testing.T) {
	h := installFakes(t)
	ctx := context.Background()

	box, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, ok := box.Port(); ok {
		t.Fatal("port should be absent before start")
	}
	if _, ok := box.Host(); ok {
		t.Fatal("host should be absent before start")
	}
	if box.Client() != nil {
		t.Fatal("client should be nil before start")
	}

	if err := box.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	port, ok := box.Port()
	if !ok || port <= 0 {
		t.Fatalf("port after start: got (%d, %v)", port, ok)
	}
	host, ok := box.Host()
	if !ok || host == "" {
		t.Fatalf("host after start: got (%q, %v)", host, ok)
	}
	if got, want := box.Addr(), host+":"+strconv.Itoa(port); got != want {
		t.Fatalf("addr mismatch: got %q want %q", got, want)
	}
	if _, running := box.State().(Running); !running {
		t.Fatalf("state = %#v, want Running", box.State())
	}
	if got := h.registry.Snapshot(); !reflect.DeepEqual(got, []string{box.ContainerName()}) {
		t.Fatalf("registry mismatch after start: %v", got)
	}

	box.Stop(ctx)
	if _, ok := box.Port(); ok {
		t.Fatal("port should be absent after stop")
	}
	if _, ok := box.Host(); ok {
		t.Fatal("host should be absent after stop")
	}
	if box.Client() != nil {
		t.Fatal("client should be nil after stop")
	}
	if _, stopped := box.State().(Stopped); !stopped {
		t.Fatalf("state = %#v, want Stopped", box.State())
	}
	if h.registry.Len() != 0 {
		t.Fatalf("registry not cleared by stop: %v", h.registry.Snapshot())
	}
	if got := h.launcher.tornDown(); !reflect.DeepEqual(got, []string{box.ContainerName()}) {
		t.Fatalf("teardowns mismatch: %v", got)
	}

	// Idle is re-entrant.
	if err := box.Start(ctx); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	box.Stop(ctx)
}

func TestIdentitiesShareImageButNotContainer(t *testing.T) {
	installFakes(t)

	a, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.ImageName() != b.ImageName() {
		t.Fatalf("image names differ: %q vs %q", a.ImageName(), b.ImageName())
	}
	if a.ContainerName() == b.ContainerName() {
		t.Fatalf("container names collide: %q", a.ContainerName())
	}

	v4, err := New(Options{Variant: V4, BuildRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New v4: %v", err)
	}
	if v4.ImageName() == a.ImageName() {
		t.Fatalf("variants should build different images, both %q", a.ImageName())
	}
}

func TestStartTwiceFailsAndKeepsState(t *testing.T) {
	h := installFakes(t)
	ctx := context.Background()

	box, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := box.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer box.Stop(ctx)

	before := box.State()
	client := box.Client()
	if err := box.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if after := box.State(); after != before {
		t.Fatalf("state changed by failed start: %#v -> %#v", before, after)
	}
	if box.Client() != client {
		t.Fatal("client replaced by failed start")
	}
	if got := h.launcher.launchCount(); got != 1 {
		t.Fatalf("launch count = %d, want 1", got)
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	h := installFakes(t)

	box, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	box.Stop(context.Background())
	if err := box.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if got := h.launcher.tornDown(); len(got) != 0 {
		t.Fatalf("unexpected teardown: %v", got)
	}
}

func TestClientRoundTrip(t *testing.T) {
	installFakes(t)
	ctx := context.Background()

	box, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := box.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer box.Stop(ctx)

	client := box.Client()
	if _, err := client.Get(ctx, "HELLO").Result(); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil before set, got %v", err)
	}
	if err := client.Set(ctx, "HELLO", "WORLD", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := client.Get(ctx, "HELLO").Result()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "WORLD" {
		t.Fatalf("got %q want %q", got, "WORLD")
	}
}

func TestGlobalCleanupStopsRegisteredContainers(t *testing.T) {
	h := installFakes(t)
	ctx := context.Background()

	a, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, box := range []*Instance{a, b} {
		if err := box.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	GlobalCleanup()

	want := []string{a.ContainerName(), b.ContainerName()}
	sort.Strings(want)
	if got := h.stops.stopped(); !reflect.DeepEqual(got, want) {
		t.Fatalf("force-stopped mismatch: got %v want %v", got, want)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("registry not emptied: %v", h.registry.Snapshot())
	}

	GlobalCleanup()
	if got := h.stops.stopped(); len(got) != 2 {
		t.Fatalf("second cleanup stopped again: %v", got)
	}

	a.Stop(ctx)
	b.Stop(ctx)
}

func TestNewRejectsStorageThatIsNotADirectory(t *testing.T) {
	h := installFakes(t)

	file := filepath.Join(t.TempDir(), "data.rdb")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	for _, path := range []string{file, filepath.Join(t.TempDir(), "missing")} {
		opts := testOptions(t)
		opts.StoragePath = path
		_, err := New(opts)
		var notDir *NotADirectoryError
		if !errors.As(err, &notDir) {
			t.Fatalf("New(%q): expected NotADirectoryError, got %v", path, err)
		}
		if notDir.Path != path {
			t.Fatalf("error path = %q, want %q", notDir.Path, path)
		}
	}
	if got := h.launcher.launchCount(); got != 0 {
		t.Fatalf("launch attempted %d times", got)
	}
}

func TestStartRechecksStorage(t *testing.T) {
	h := installFakes(t)

	storage := filepath.Join(t.TempDir(), "data")
	if err := os.Mkdir(storage, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	opts := testOptions(t)
	opts.StoragePath = storage
	box, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.Remove(storage); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	err = box.Start(context.Background())
	var notDir *NotADirectoryError
	if !errors.As(err, &notDir) {
		t.Fatalf("expected NotADirectoryError, got %v", err)
	}
	if _, stopped := box.State().(Stopped); !stopped {
		t.Fatalf("state = %#v, want Stopped", box.State())
	}
	if got := h.launcher.launchCount(); got != 0 {
		t.Fatalf("launch attempted %d times", got)
	}
}

func TestStoragePathIsPassedAbsolute(t *testing.T) {
	h := installFakes(t)
	ctx := context.Background()

	storage := t.TempDir()
	opts := testOptions(t)
	opts.StoragePath = storage
	box, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := box.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer box.Stop(ctx)

	h.launcher.mu.Lock()
	req := h.launcher.launches[0]
	h.launcher.mu.Unlock()
	if req.StoragePath != storage {
		t.Fatalf("storage = %q, want %q", req.StoragePath, storage)
	}
	if req.Image != box.ImageName() || req.Container != box.ContainerName() {
		t.Fatalf("launch request names mismatch: %+v", req)
	}
	if _, err := os.Stat(filepath.Join(req.BuildDir, req.Definition.FileName)); err != nil {
		t.Fatalf("build definition not materialized: %v", err)
	}
}

func TestFailedLaunchLeavesInstanceIdle(t *testing.T) {
	h := installFakes(t)
	ctx := context.Background()

	box, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.launcher.launchErr = &CommandError{Name: "docker", Args: []string{"build"}, Code: 125}

	err = box.Start(ctx)
	code, ok := IsCommandError(err)
	if !ok || code != 125 {
		t.Fatalf("expected command error with code 125, got %v", err)
	}
	if _, ok := box.Port(); ok {
		t.Fatal("port visible after failed start")
	}

	h.launcher.mu.Lock()
	h.launcher.launchErr = nil
	h.launcher.mu.Unlock()
	if err := box.Start(ctx); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	box.Stop(ctx)
}

func TestFailedConnectTearsDown(t *testing.T) {
	h := installFakes(t)
	h.launcher.deadPort = true

	box, err := New(testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := box.Start(context.Background()); err == nil {
		t.Fatal("expected connect failure")
	}
	if _, stopped := box.State().(Stopped); !stopped {
		t.Fatalf("state = %#v, want Stopped", box.State())
	}
	if got := h.launcher.tornDown(); !reflect.DeepEqual(got, []string{box.ContainerName()}) {
		t.Fatalf("teardowns mismatch: %v", got)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("container left registered: %v", h.registry.Snapshot())
	}
}

func TestConcurrentInstancesAreIndependent(t *testing.T) {
	installFakes(t)
	ctx := context.Background()

	const n = 4
	boxes := make([]*Instance, n)
	for i := range boxes {
		box, err := New(testOptions(t))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		boxes[i] = box
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, box := range boxes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := box.Start(ctx); err != nil {
				errs[i] = err
				return
			}
			key := "k" + strconv.Itoa(i)
			errs[i] = box.Client().Set(ctx, key, i, 0).Err()
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("instance %d: %v", i, err)
		}
	}

	for i, box := range boxes {
		for j := range boxes {
			exists, err := box.Client().Exists(ctx, "k"+strconv.Itoa(j)).Result()
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			want := int64(0)
			if i == j {
				want = 1
			}
			if exists != want {
				t.Fatalf("instance %d: exists(k%d) = %d, want %d", i, j, exists, want)
			}
		}
	}
	for _, box := range boxes {
		box.Stop(ctx)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	installFakes(t)

	cases := map[string]Options{
		"variant":       {Variant: "v9"},
		"ready timeout": {ReadyTimeout: -time.Second},
		"port attempts": {PortAttempts: -1},
	}
	for name, opts := range cases {
		opts.BuildRoot = t.TempDir()
		if _, err := New(opts); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	installFakes(t)

	box, err := New(Options{BuildRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := box.Options()
	if got.Runtime != DefaultRuntime || got.Variant != V5 || got.ReadyTimeout != DefaultReadyTimeout || got.PortAttempts != DefaultPortAttempts {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.Logger == nil {
		t.Fatal("default logger missing")
	}
}

type fakeM struct {
	code int
	run  func()
}

func (m fakeM) Run() int {
	if m.run != nil {
		m.run()
	}
	return m.code
}

func TestRunTestMainSweepsAndReturnsCode(t *testing.T) {
	h := installFakes(t)
	h.registry.Register("leftover")

	if got := runTestMain(fakeM{code: 3}); got != 3 {
		t.Fatalf("exit code = %d, want 3", got)
	}
	if got := h.stops.stopped(); !reflect.DeepEqual(got, []string{"leftover"}) {
		t.Fatalf("leftover not swept: %v", got)
	}
}

func TestOptionsFromSettings(t *testing.T) {
	t.Parallel()

	verbose := true
	got, err := optionsFromSettings(configstore.Settings{
		Runtime:      "podman",
		Variant:      "4",
		Verbose:      &verbose,
		Storage:      "/srv/redis",
		ReadyTimeout: configstore.Duration(30 * time.Second),
		PortAttempts: 10,
		ImagePrefix:  "ci-",
	})
	if err != nil {
		t.Fatalf("optionsFromSettings: %v", err)
	}
	want := Options{
		Variant:      V4,
		Verbose:      true,
		StoragePath:  "/srv/redis",
		Runtime:      "podman",
		ReadyTimeout: 30 * time.Second,
		PortAttempts: 10,
		ImagePrefix:  "ci-",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("options mismatch:\n got %+v\nwant %+v", got, want)
	}

	if _, err := optionsFromSettings(configstore.Settings{Variant: "v9"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
