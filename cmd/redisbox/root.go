package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strongdm/redisbox"
	"github.com/strongdm/redisbox/internal/console"
)

type globalFlags struct {
	runtime string
	verbose bool
	config  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "redisbox",
		Short: "Disposable Redis servers in containers",
		Long: `redisbox starts throwaway Redis servers in containers for local testing.

Each server runs in a detached, auto-removing container published on a random
127.0.0.1 port. Containers are labelled so that leftovers from crashed test
runs can be listed with "redisbox ps" and removed with "redisbox cleanup".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("config") {
				return os.Setenv("REDISBOX_CONFIG", g.config)
			}
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&g.runtime, "runtime", "", "container CLI to drive (default from config, else docker)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "echo runtime commands and their output")
	flags.StringVar(&g.config, "config", "", "config file path (overrides REDISBOX_CONFIG)")

	root.AddCommand(
		newRunCmd(g),
		newPsCmd(g),
		newCleanupCmd(g),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// resolveOptions layers command-line flags over the config file and
// environment.
func resolveOptions(cmd *cobra.Command, g *globalFlags) (redisbox.Options, error) {
	opts, err := redisbox.LoadOptions()
	if err != nil {
		return redisbox.Options{}, err
	}
	if cmd.Flags().Changed("runtime") {
		opts.Runtime = g.runtime
	}
	if cmd.Flags().Changed("verbose") {
		opts.Verbose = g.verbose
	}
	opts.Logger = log.New(cmd.ErrOrStderr(), "redisbox: ", 0)
	return opts, nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// printer writes user-facing status lines, styled when w is a terminal.
type printer struct {
	w     io.Writer
	theme console.Theme
}

func newPrinter(w io.Writer) printer {
	return printer{w: w, theme: console.NewTheme(console.SupportsColor(w))}
}

func (p printer) info(format string, args ...any) {
	fmt.Fprintln(p.w, p.theme.Muted.Render(fmt.Sprintf(format, args...)))
}

func (p printer) success(format string, args ...any) {
	fmt.Fprintln(p.w, p.theme.Success.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func (p printer) warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.theme.Warning.Render("!")+" "+fmt.Sprintf(format, args...))
}

func (p printer) plain(s string) {
	fmt.Fprintln(p.w, strings.TrimRight(s, "\n"))
}
