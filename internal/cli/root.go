package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ggg436/greenloops/feed-sync/config"
)

// RootOptions holds global flags and the configuration loaded before any command runs.
type RootOptions struct {
	ConfigPath string
	Config     config.Config
}

// NewRootCommand creates the root command of the feedsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "feedsync",
		Short: "feedsync - real-time social feed sync engine",
		Long: `Keeps viewers' feeds in sync with the backing stores: live recent posts,
author profiles, optimistic mutations and cursor pagination.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if path == "" {
				path = os.Getenv("CONFIG_PATH")
			}
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}
			opts.Config = cfg
			initLogger(cfg, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (default $CONFIG_PATH)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))

	return cmd
}
