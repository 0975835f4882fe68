package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes Go duration strings such
// as "45s" or "2m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("duration %q must not be negative", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}

// Settings holds the tunables that may appear globally or per project. Zero
// values mean "not set" so that layers can be merged.
type Settings struct {
	Runtime      string   `toml:"runtime,omitempty"`
	Variant      string   `toml:"variant,omitempty"`
	Verbose      *bool    `toml:"verbose,omitempty"`
	Storage      string   `toml:"storage,omitempty"`
	ReadyTimeout Duration `toml:"ready_timeout,omitempty"`
	PortAttempts int      `toml:"port_attempts,omitempty"`
	ImagePrefix  string   `toml:"image_prefix,omitempty"`
}

// Merge returns s with every field set in over replacing the original.
func (s Settings) Merge(over Settings) Settings {
	if over.Runtime != "" {
		s.Runtime = over.Runtime
	}
	if over.Variant != "" {
		s.Variant = over.Variant
	}
	if over.Verbose != nil {
		v := *over.Verbose
		s.Verbose = &v
	}
	if over.Storage != "" {
		s.Storage = over.Storage
	}
	if over.ReadyTimeout != 0 {
		s.ReadyTimeout = over.ReadyTimeout
	}
	if over.PortAttempts != 0 {
		s.PortAttempts = over.PortAttempts
	}
	if over.ImagePrefix != "" {
		s.ImagePrefix = over.ImagePrefix
	}
	return s
}

// IsVerbose reports the verbose flag, treating unset as false.
func (s Settings) IsVerbose() bool {
	return s.Verbose != nil && *s.Verbose
}

// Keys lists the names accepted by Set, in file order.
func Keys() []string {
	return []string{"runtime", "variant", "verbose", "storage", "ready_timeout", "port_attempts", "image_prefix"}
}

// Set assigns one key from its string form. An empty value clears the key.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(key) {
	case "runtime":
		s.Runtime = value
	case "variant":
		s.Variant = value
	case "verbose":
		if value == "" {
			s.Verbose = nil
			return nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse verbose %q: %w", value, err)
		}
		s.Verbose = boolPtr(b)
	case "storage":
		s.Storage = value
	case "ready_timeout":
		if value == "" {
			s.ReadyTimeout = 0
			return nil
		}
		d, err := parseDuration(value)
		if err != nil {
			return err
		}
		s.ReadyTimeout = Duration(d)
	case "port_attempts":
		if value == "" {
			s.PortAttempts = 0
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("port_attempts must be a non-negative integer, got %q", value)
		}
		s.PortAttempts = n
	case "image_prefix":
		s.ImagePrefix = value
	default:
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	return nil
}

// Config is the persisted file: global settings at the top level and
// per-project overrides under [projects."<dir>"].
type Config struct {
	Settings
	Projects map[string]Settings `toml:"projects,omitempty"`
}

// New returns an empty configuration.
func New() Config {
	return Config{Projects: make(map[string]Settings)}
}

func (c *Config) ensureInitialized() {
	if c.Projects == nil {
		c.Projects = make(map[string]Settings)
	}
}

// SetGlobal assigns a top-level key.
func (c *Config) SetGlobal(key, value string) error {
	return c.Settings.Set(key, value)
}

// SetProject assigns a key scoped to projectPath.
func (c *Config) SetProject(projectPath, key, value string) error {
	c.ensureInitialized()
	projectKey, err := normalizeProjectKey(projectPath)
	if err != nil {
		return err
	}
	s := c.Projects[projectKey]
	if err := s.Set(key, value); err != nil {
		return err
	}
	if s == (Settings{}) {
		delete(c.Projects, projectKey)
		return nil
	}
	c.Projects[projectKey] = s
	return nil
}

// Effective merges global settings with the project entry that most closely
// encloses dir. Storage is returned expanded and absolute.
func (c Config) Effective(dir string) (Settings, error) {
	out := c.Settings
	if dir != "" && len(c.Projects) > 0 {
		key, err := normalizeProjectKey(dir)
		if err != nil {
			return Settings{}, err
		}
		if project, ok := c.closestProject(key); ok {
			out = out.Merge(project)
		}
	}
	storage, err := ExpandPath(out.Storage)
	if err != nil {
		return Settings{}, fmt.Errorf("resolve storage: %w", err)
	}
	out.Storage = storage
	return out, nil
}

func (c Config) closestProject(dir string) (Settings, bool) {
	keys := make([]string, 0, len(c.Projects))
	for key := range c.Projects {
		keys = append(keys, key)
	}
	// Longest key first so the nearest enclosing project wins.
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		if dir == key || strings.HasPrefix(dir, key+string(filepath.Separator)) {
			return c.Projects[key], true
		}
	}
	return Settings{}, false
}

// normalizeProjectKey resolves the absolute, symlink-free path for use as a
// project key.
func normalizeProjectKey(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("project path must not be empty")
	}
	abs, err := ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("abs project path: %w", err)
	}
	normalized, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return filepath.Clean(normalized), nil
}

// envKeys maps REDISBOX_* variables onto Settings keys.
var envKeys = []struct{ env, key string }{
	{"REDISBOX_RUNTIME", "runtime"},
	{"REDISBOX_VARIANT", "variant"},
	{"REDISBOX_VERBOSE", "verbose"},
	{"REDISBOX_STORAGE", "storage"},
	{"REDISBOX_READY_TIMEOUT", "ready_timeout"},
	{"REDISBOX_PORT_ATTEMPTS", "port_attempts"},
	{"REDISBOX_IMAGE_PREFIX", "image_prefix"},
}

// FromEnv builds the environment layer. Unset or blank variables are
// skipped.
func FromEnv(getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var s Settings
	for _, e := range envKeys {
		value := strings.TrimSpace(getenv(e.env))
		if value == "" {
			continue
		}
		if err := s.Set(e.key, value); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", e.env, err)
		}
	}
	return s, nil
}

func boolPtr(v bool) *bool {
	b := v
	return &b
}
