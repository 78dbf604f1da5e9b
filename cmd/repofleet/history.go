package repofleet

import (
	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/cliio"
	"github.com/skaphos/repofleet/internal/history"
)

var historyCmd = &cobra.Command{
	Use:     "history [target]",
	Aliases: []string{"log"},
	Short:   "List recent commits of a working copy",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		dir, err := s.resolveRepoDir(target)
		if err != nil {
			return err
		}
		repo, err := history.Open(dir)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		filter, _ := cmd.Flags().GetString("filter")
		commits, err := repo.Commits(limit)
		if err != nil {
			return err
		}
		commits = history.FilterCommits(commits, filter)

		rows := make([][]string, 0, len(commits))
		for _, c := range commits {
			rows = append(rows, []string{c.Short, c.When.Format("2006-01-02 15:04"), c.Author, c.Subject})
		}
		limitCells := historyCellLimits.forCommand(cmd)
		logOutputWriteFailure(cmd, "history", cliio.WriteTable(cmd.OutOrStdout(), true, false, []string{"COMMIT", "DATE", "AUTHOR", "SUBJECT"}, rows, limitCells))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <commit>",
	Short: "Show a commit and its diff against the first parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("repo")
		dir, err := s.resolveRepoDir(target)
		if err != nil {
			return err
		}
		repo, err := history.Open(dir)
		if err != nil {
			return err
		}
		context := diffContext(cmd, s)
		lines, err := repo.CommitDetail(args[0], context)
		if err != nil {
			return err
		}
		logOutputWriteFailure(cmd, "show", cliio.WriteLines(cmd.OutOrStdout(), lines))
		return nil
	},
}

func diffContext(cmd *cobra.Command, s *session) int {
	if flag := cmd.Flags().Lookup("unified"); flag != nil && flag.Changed {
		n, _ := cmd.Flags().GetInt("unified")
		if n >= 0 {
			return n
		}
	}
	return s.cfg.Defaults.DiffContext
}

func init() {
	historyCmd.Flags().Int("limit", history.DefaultLimit, "maximum commits to list")
	historyCmd.Flags().String("filter", "", "only list commits whose author or subject contains this text")
	showCmd.Flags().String("repo", "", "registered name or path of the repository (default: current directory)")
	showCmd.Flags().IntP("unified", "U", 3, "lines of context around each change")
	rootCmd.AddCommand(historyCmd, showCmd)
}
