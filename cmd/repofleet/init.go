// SPDX-License-Identifier: MIT
package repofleet

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default repofleet configuration",
	Long:  "Creates a repofleet config file in the current directory unless --config or REPOFLEET_CONFIG points elsewhere.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfgPath, err := config.InitConfigPath(flagConfig, cwd)
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfgPath); err == nil && !force {
			return fmt.Errorf("config already exists at %q (use --force to overwrite)", cfgPath)
		}

		cfg := config.DefaultConfig()
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote config to %s\n", cfgPath)
		return err
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}
