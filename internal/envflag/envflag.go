// Package envflag reads boolean REDISBOX_* toggles from the environment.
package envflag

import (
	"os"
	"strings"
)

// Enabled reports whether the named environment variable holds a truthy
// value. Unset variables are false.
func Enabled(name string) bool {
	value, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	return IsTruthy(value)
}

// IsTruthy returns true when value matches an accepted truthy form.
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	default:
		return false
	}
}
