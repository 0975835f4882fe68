package main

import (
	"github.com/spf13/cobra"

	"github.com/strongdm/redisbox"
	"github.com/strongdm/redisbox/internal/console"
)

func newPsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List running redisbox containers",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveOptions(cmd, g)
			if err != nil {
				return err
			}
			containers, err := redisbox.ListManaged(cmd.Context(), opts)
			if err != nil {
				return err
			}
			rows := make([]console.ContainerRow, 0, len(containers))
			for _, c := range containers {
				rows = append(rows, console.ContainerRow{Name: c.Name, Image: c.Image, Status: c.Status, Ports: c.Ports})
			}
			out := cmd.OutOrStdout()
			return console.RenderContainers(out, console.NewTheme(console.SupportsColor(out)), rows)
		},
	}
}
