package repofleet

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/discovery"
	"github.com/skaphos/repofleet/internal/strutil"
)

var scanCmd = &cobra.Command{
	Use:   "scan <root>...",
	Short: "Scan roots for git repos and register them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debugf(cmd, "starting scan")
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}

		exclude, _ := cmd.Flags().GetString("exclude")
		followSymlinks, _ := cmd.Flags().GetBool("follow-symlinks")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		pruneStale, _ := cmd.Flags().GetBool("prune-stale")

		roots := make([]string, 0, len(args))
		for _, root := range args {
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			roots = append(roots, abs)
		}

		results, err := discovery.Scan(cmd.Context(), discovery.Options{
			Roots:          roots,
			Exclude:        append(append([]string(nil), s.cfg.Exclude...), strutil.SplitCSV(exclude)...),
			FollowSymlinks: followSymlinks,
			Runner:         newRunner(),
		})
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}

		created := make(map[string]bool, len(results))
		added := 0
		for _, result := range results {
			if s.reg.Add(result.Target()) {
				created[result.Path] = true
				added++
			}
		}
		if pruneStale {
			if err := s.reg.ValidatePaths(); err != nil {
				return err
			}
			if pruned := s.reg.PruneStale(time.Duration(s.cfg.RegistryStaleDays) * 24 * time.Hour); pruned > 0 {
				infof(cmd, "pruned %d stale entries", pruned)
			}
		}
		if !dryRun {
			if err := s.save(); err != nil {
				return err
			}
		}

		logOutputWriteFailure(cmd, "scan", writeScanTable(cmd, results, created))
		infof(cmd, "scan completed: %d repos, %d new", len(results), added)
		return nil
	},
}

func init() {
	scanCmd.Flags().String("exclude", "", "comma-separated glob patterns to exclude, on top of the configured ones")
	scanCmd.Flags().Bool("follow-symlinks", false, "follow symbolic links during scan")
	scanCmd.Flags().Bool("prune-stale", false, "remove registry entries missing for longer than registry_stale_days")
	scanCmd.Flags().Bool("dry-run", false, "report what would be registered without writing the registry")
	rootCmd.AddCommand(scanCmd)
}
