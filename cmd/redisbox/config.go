package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/strongdm/redisbox/internal/configstore"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the redisbox config file",
	}

	var project string
	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a config key globally or for one project directory",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConfig(cmd, project, args[0], args[1])
		},
	}
	unset := &cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a config key",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateConfig(cmd, project, args[0], "")
		},
	}
	for _, c := range []*cobra.Command{set, unset} {
		c.Flags().StringVar(&project, "project", "", "scope the key to this project directory")
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, file, err := configstore.GetConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), file)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the settings in effect for the current directory",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			settings, err := configstore.Resolve(cwd)
			if err != nil {
				return err
			}
			data, err := toml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(set, unset, path, show)
	return cmd
}

func updateConfig(cmd *cobra.Command, project, key, value string) error {
	cfg, err := configstore.Load()
	if err != nil {
		return err
	}
	if project != "" {
		err = cfg.SetProject(project, key, value)
	} else {
		err = cfg.SetGlobal(key, value)
	}
	if err != nil {
		return &usageError{err: err}
	}
	if err := configstore.Save(cfg); err != nil {
		return err
	}
	_, file, err := configstore.GetConfigPath()
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout()).success("updated %s", file)
	return nil
}
