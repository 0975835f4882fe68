package configstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ParseError represents a TOML decode failure, including unknown keys.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads the persisted config from disk. A missing file results in an
// empty configuration.
func Load() (Config, error) {
	_, file, err := GetConfigPath()
	if err != nil {
		return New(), err
	}
	return LoadFile(file)
}

// LoadFile reads the config at path. A missing file results in an empty
// configuration.
func LoadFile(path string) (Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(data, path, &cfg); err != nil {
		return New(), err
	}
	return cfg, nil
}

func decodeConfig(data []byte, path string, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	cfg.ensureInitialized()

	normalized := make(map[string]Settings, len(cfg.Projects))
	for raw, settings := range cfg.Projects {
		key, err := normalizeProjectKey(raw)
		if err != nil {
			return fmt.Errorf("parse projects.%s: %w", raw, err)
		}
		if _, dup := normalized[key]; dup {
			return fmt.Errorf("parse projects.%s: another project entry resolves to %s", raw, key)
		}
		normalized[key] = settings
	}
	cfg.Projects = normalized
	return nil
}

// Resolve loads the config file and returns the effective settings for dir
// with the REDISBOX_* environment layered on top.
func Resolve(dir string) (Settings, error) {
	cfg, err := Load()
	if err != nil {
		return Settings{}, err
	}
	eff, err := cfg.Effective(dir)
	if err != nil {
		return Settings{}, err
	}
	env, err := FromEnv(os.Getenv)
	if err != nil {
		return Settings{}, err
	}
	out := eff.Merge(env)
	if out.Storage, err = ExpandPath(out.Storage); err != nil {
		return Settings{}, fmt.Errorf("resolve storage: %w", err)
	}
	return out, nil
}

// Save atomically writes the configuration to disk.
func Save(cfg Config) error {
	cfg.ensureInitialized()

	dir, file, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, file); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	cleaned = true
	return nil
}
