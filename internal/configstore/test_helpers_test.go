package configstore

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var envMu sync.Mutex

func lockEnv(t *testing.T) {
	t.Helper()
	envMu.Lock()
	t.Cleanup(func() {
		envMu.Unlock()
	})
}

func testSetEnv(t *testing.T, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !existed {
			_ = os.Unsetenv(key)
			return
		}
		if err := os.Setenv(key, prev); err != nil {
			t.Fatalf("restore env %s: %v", key, err)
		}
	})
}

func setHome(t *testing.T, dir string) {
	t.Helper()
	switch runtime.GOOS {
	case "windows":
		testSetEnv(t, "USERPROFILE", dir)
	default:
		testSetEnv(t, "HOME", dir)
	}
}

func unsetHome(t *testing.T) {
	t.Helper()
	testSetEnv(t, "HOME", "")
	testSetEnv(t, "USERPROFILE", "")
}

// isolateConfig points every config lookup at a fresh directory and clears
// the REDISBOX_* overrides. The caller must hold lockEnv.
func isolateConfig(t *testing.T) (dir, file string) {
	t.Helper()
	base := t.TempDir()
	testSetEnv(t, "REDISBOX_CONFIG", "")
	testSetEnv(t, "REDISBOX_HOME", filepath.Join(base, "redisbox-home"))
	testSetEnv(t, "XDG_CONFIG_HOME", "")
	setHome(t, filepath.Join(base, "home"))
	for _, e := range envKeys {
		testSetEnv(t, e.env, "")
	}
	dir, file, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	return dir, file
}

func writeConfig(t *testing.T, dir, file, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
