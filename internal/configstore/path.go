package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const configFileName = "config.toml"

// GetConfigPath resolves the redisbox configuration directory and file path.
// REDISBOX_CONFIG names the file directly; otherwise REDISBOX_HOME, then
// XDG_CONFIG_HOME, then ~/.config/redisbox is used.
func GetConfigPath() (string, string, error) {
	if override := strings.TrimSpace(os.Getenv("REDISBOX_CONFIG")); override != "" {
		file, err := absPath("REDISBOX_CONFIG", override)
		if err != nil {
			return "", "", err
		}
		return filepath.Dir(file), file, nil
	}

	if override := strings.TrimSpace(os.Getenv("REDISBOX_HOME")); override != "" {
		dir, err := absPath("REDISBOX_HOME", override)
		if err != nil {
			return "", "", err
		}
		return dir, filepath.Join(dir, configFileName), nil
	}

	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := resolveHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, "redisbox")
	return dir, filepath.Join(dir, configFileName), nil
}

func absPath(envName, value string) (string, error) {
	expanded, err := expandLeadingTilde(value)
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", envName, value, err)
	}
	abs, err := filepath.Abs(filepath.Clean(expanded))
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", envName, value, err)
	}
	return abs, nil
}

// resolveHomeDir reads HOME-style variables on every call rather than
// trusting a cached value.
func resolveHomeDir() (string, error) {
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		home = strings.TrimSpace(os.Getenv("USERPROFILE"))
	}
	if home != "" {
		return filepath.Clean(home), nil
	}
	return "", fmt.Errorf("resolve home dir: home directory not found")
}

// expandLeadingTilde replaces a leading "~" or "~/" with the home directory.
// "~user" forms are returned unchanged.
func expandLeadingTilde(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	if len(path) > 1 && path[1] != '/' && path[1] != '\\' {
		return path, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, strings.TrimLeft(path[2:], "/\\")), nil
}

// ExpandPath expands environment references and a leading tilde, then makes
// the result absolute. Empty input stays empty.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := expandLeadingTilde(os.ExpandEnv(trimmed))
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("abs path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
