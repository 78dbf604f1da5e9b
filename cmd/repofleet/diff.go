package repofleet

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/unidiff"
)

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Print a unified diff of two files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		oldData, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		newData, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		hunks := unidiff.DiffText(string(oldData), string(newData), diffContext(cmd, s))
		if len(hunks) > 0 {
			raiseExitCode(1)
		}
		return unidiff.Write(cmd.OutOrStdout(), args[0], args[1], hunks)
	},
}

func init() {
	diffCmd.Flags().IntP("unified", "U", 3, "lines of context around each change")
	rootCmd.AddCommand(diffCmd)
}
