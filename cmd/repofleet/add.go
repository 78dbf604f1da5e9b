package repofleet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/model"
)

var addCmd = &cobra.Command{
	Use:   "add <dir>",
	Short: "Register a directory with the fleet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}

		names, _ := cmd.Flags().GetStringSlice("name")
		groups, _ := cmd.Flags().GetStringSlice("group")
		if len(names) == 0 {
			names = []string{filepath.Base(dir)}
		}
		isRepo, err := gitx.IsRepo(cmd.Context(), newRunner(), dir)
		if err != nil {
			return err
		}

		created := s.reg.Add(model.RepoTarget{Path: dir, Names: names, Repo: isRepo, Groups: groups})
		if err := s.save(); err != nil {
			return err
		}
		verb := "updated"
		if created {
			verb = "added"
		}
		if !isRepo {
			infof(cmd, "%s %s (not a git working tree; actions will skip it)", verb, dir)
			return nil
		}
		infof(cmd, "%s %s", verb, dir)
		return nil
	},
}

func init() {
	addCmd.Flags().StringSlice("name", nil, "display name for lookups (repeatable)")
	addCmd.Flags().StringSlice("group", nil, "free-form group tag (repeatable)")
	rootCmd.AddCommand(addCmd)
}
