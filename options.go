package redisbox

import (
	"fmt"
	"os"
	"time"

	"github.com/strongdm/redisbox/internal/configstore"
	"github.com/strongdm/redisbox/internal/image"
)

// LoadOptions reads the redisbox config file and REDISBOX_* environment
// variables and returns the resulting Options for the current directory.
// Fields neither source sets keep their zero value and take the package
// defaults in New.
func LoadOptions() (Options, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Options{}, fmt.Errorf("resolve working directory: %w", err)
	}
	settings, err := configstore.Resolve(cwd)
	if err != nil {
		return Options{}, err
	}
	return optionsFromSettings(settings)
}

func optionsFromSettings(s configstore.Settings) (Options, error) {
	var variant Variant
	if s.Variant != "" {
		v, err := image.ParseVariant(s.Variant)
		if err != nil {
			return Options{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		variant = v
	}
	return Options{
		Variant:      variant,
		Verbose:      s.IsVerbose(),
		StoragePath:  s.Storage,
		Runtime:      s.Runtime,
		ReadyTimeout: time.Duration(s.ReadyTimeout),
		PortAttempts: s.PortAttempts,
		ImagePrefix:  s.ImagePrefix,
	}, nil
}
