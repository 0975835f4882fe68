package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strongdm/redisbox"
)

func newCleanupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Force-stop every redisbox container, including leftovers from other processes",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions(cmd, g)
			if err != nil {
				return err
			}
			stopped, err := redisbox.StopManaged(cmd.Context(), opts)
			var failures *redisbox.StopFailures
			if err != nil && !errors.As(err, &failures) {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())
			for _, name := range stopped {
				out.success("stopped %s", name)
			}
			if failures != nil {
				for _, failure := range failures.Errs {
					out.warn("%v", failure)
				}
				return fmt.Errorf("%d container(s) could not be stopped", len(failures.Errs))
			}
			if len(stopped) == 0 {
				out.info("nothing to clean up")
			}
			return nil
		},
	}
}
