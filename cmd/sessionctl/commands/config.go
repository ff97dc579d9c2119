package commands

import (
	"fmt"
	"os"

	"github.com/Morditux/kvsession"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the sessionctl configuration file",
}

var forceInit bool

var configInitCmd = &cobra.Command{
	Use:   "init PATH",
	Short: "Write a configuration file with default values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
		if err := kvsession.SaveOptions(kvsession.DefaultOptions(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := kvsession.LoadOptions(cfgFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "driver: %s\nhost: %s\nport: %d\nkey_prefix: %q\ncodec: %s\nmax_lifetime: %s\n",
			opts.Driver, opts.Host, opts.Port, opts.KeyPrefix, opts.Codec, opts.MaxLifetime())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
