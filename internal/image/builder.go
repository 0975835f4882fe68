package image

import (
	"context"
	"fmt"

	"github.com/strongdm/redisbox/internal/command"
)

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, c command.Command) (string, error)
}

// Builder builds images through the container runtime CLI. Rebuilding an
// unchanged definition is left to the runtime's layer cache.
type Builder struct {
	runner  Runner
	runtime string
	verbose bool
}

// NewBuilder returns a Builder invoking runtime (for example "docker").
func NewBuilder(runner Runner, runtime string, verbose bool) *Builder {
	return &Builder{runner: runner, runtime: runtime, verbose: verbose}
}

// Build runs `<runtime> build -f <file> -t <tag> .` inside dir.
func (b *Builder) Build(ctx context.Context, def Definition, dir, tag string) error {
	_, err := b.runner.Run(ctx, command.Command{
		Name:    b.runtime,
		Args:    []string{"build", "-f", def.FileName, "-t", tag, "."},
		Dir:     dir,
		Verbose: b.verbose,
	})
	if err != nil {
		return fmt.Errorf("build image %s: %w", tag, err)
	}
	return nil
}
