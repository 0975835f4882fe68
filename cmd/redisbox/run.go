package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strongdm/redisbox"
	"github.com/strongdm/redisbox/internal/console"
)

type runFlags struct {
	variant      string
	storage      string
	readyTimeout time.Duration
	noTUI        bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a server and keep it running until interrupted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, g, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.variant, "variant", "", "server generation: v5 or v4")
	flags.StringVar(&f.storage, "storage", "", "host directory for append-only persistence")
	flags.DurationVar(&f.readyTimeout, "ready-timeout", 0, "how long to wait for the server to answer")
	flags.BoolVar(&f.noTUI, "no-tui", false, "print the address and wait for a signal instead of showing the status view")
	return cmd
}

func runServer(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	opts, err := resolveOptions(cmd, g)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("variant") {
		opts.Variant = redisbox.Variant(f.variant)
	}
	if cmd.Flags().Changed("storage") {
		opts.StoragePath = f.storage
	}
	if cmd.Flags().Changed("ready-timeout") {
		opts.ReadyTimeout = f.readyTimeout
	}

	box, err := redisbox.New(opts)
	if err != nil {
		return err
	}

	// Interrupts end ctx and the deferred Stop removes the container.
	redisbox.DisableSignalHook()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter(cmd.ErrOrStderr())
	out.info("starting %s", box.ContainerName())
	if err := box.Start(ctx); err != nil {
		return err
	}
	defer func() {
		box.Stop(context.WithoutCancel(ctx))
		out.success("removed %s", box.ContainerName())
	}()

	port, _ := box.Port()
	effective := box.Options()
	info := console.Info{
		Version:   versionTag(),
		Container: box.ContainerName(),
		Image:     box.ImageName(),
		Addr:      box.Addr(),
		Port:      port,
		Variant:   string(effective.Variant),
		Runtime:   effective.Runtime,
		Storage:   effective.StoragePath,
		Started:   time.Now(),
	}

	stdout := cmd.OutOrStdout()
	if !f.noTUI && console.IsTerminal(cmd.InOrStdin()) && console.IsTerminal(stdout) {
		return console.RunStatus(ctx, cmd.InOrStdin(), stdout, info)
	}
	newPrinter(stdout).plain(console.RenderInfo(console.NewTheme(console.SupportsColor(stdout)), info))
	<-ctx.Done()
	return nil
}
