package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gkatanacio/gh-folder-download/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or show the configuration file.",
}

var configInitCmd = &cobra.Command{
	Use:     "init [path]",
	Short:   "Write a configuration file with every option and its default.",
	Example: "gh-folder-download config init ~/.config/gh-folder-download/gh-folder-download.yaml",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteSample(afero.NewOsFs(), path, configInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		out, err := config.Marshal(a.cfg)
		if err != nil {
			return err
		}
		source := a.cfgPath
		if source == "" {
			source = "defaults and environment"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", source, out)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
