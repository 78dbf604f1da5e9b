package repofleet

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/cliio"
)

var removeCmd = &cobra.Command{
	Use:     "remove <path|name>",
	Aliases: []string{"rm"},
	Short:   "Remove a directory from the fleet registry",
	Long:    "Removes the registry entry only. Nothing on disk is touched.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		path, err := s.resolveRepoDir(args[0])
		if err != nil {
			return err
		}
		if s.reg.FindByPath(path) == nil {
			return fmt.Errorf("%s is not registered", path)
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := cliio.PromptYesNo(cmd.ErrOrStderr(), cmd.InOrStdin(), fmt.Sprintf("Remove %s from the registry? [y/N]: ", path))
			if err != nil {
				return err
			}
			if !ok {
				infof(cmd, "aborted")
				return nil
			}
		}

		s.reg.Remove(path)
		if err := s.save(); err != nil {
			return err
		}
		infof(cmd, "removed %s", path)
		return nil
	},
}

func init() {
	removeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(removeCmd)
}
