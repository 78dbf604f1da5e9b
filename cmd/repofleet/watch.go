package repofleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/dashboard"
	"github.com/skaphos/repofleet/internal/health"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/scheduler"
	"github.com/skaphos/repofleet/internal/watch"
)

const clearScreen = "\x1b[H\x1b[2J"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a live view of the fleet, refreshed as repositories change",
	Long: "Redraws the fleet table every tick. Repository metadata is watched so commits, " +
		"checkouts and fetches made elsewhere refresh the affected row. Stop with Ctrl-C.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = s.logger.Sync() }()

		actionName, _ := cmd.Flags().GetString("action")
		filter, _ := cmd.Flags().GetString("filter")
		untilSettled, _ := cmd.Flags().GetBool("exit-when-settled")

		targets := s.reg.Targets()
		watcher, err := watch.New(s.logger)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		var repoPaths []string
		for _, t := range s.reg.Repos() {
			repoPaths = append(repoPaths, t.Path)
		}
		if failed := watcher.AddAll(repoPaths); len(failed) > 0 {
			debugf(cmd, "not watching %d repos: %s", len(failed), strings.Join(failed, ", "))
		}

		sched := scheduler.New(scheduler.Options{
			Executor:   newExecutor(cmd, s),
			Spawner:    newSpawner(),
			PullRebase: s.cfg.PullRebase,
			LogLines:   s.cfg.Defaults.LogLines,
			Logger:     s.logger,
		})
		loop := dashboard.New(targets, dashboard.Options{
			Scheduler:  sched,
			Prober:     health.NewProber(newRunner(), s.cfg.Defaults.ReadConcurrency, s.logger),
			Watcher:    watcher,
			Tick:       time.Duration(s.cfg.Defaults.TickMillis) * time.Millisecond,
			WriteLimit: s.cfg.Defaults.WriteConcurrency,
			Logger:     s.logger,
		})
		defer loop.Close()
		loop.Aggregator().SetFilter(filter)

		if actionName != "" {
			action, err := model.ParseAction(actionName)
			if err != nil {
				return err
			}
			loop.Submit(action)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		setColorOutputMode(cmd, "table")
		_, interactive := tableWidth(cmd)
		draw := func(snap dashboard.Snapshot) {
			if interactive {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), clearScreen)
			}
			logOutputWriteFailure(cmd, "watch", writeFleetTable(cmd, snap.Rows))
			if snap.Total > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d done, %d running\n", snap.Done, snap.Total, snap.Running)
			}
		}
		var until func(*dashboard.Loop) bool
		if untilSettled {
			until = (*dashboard.Loop).Settled
		}
		err = loop.Run(ctx, draw, until)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().String("action", "", "run an action (status, fetch, merge, update) across the fleet on start")
	watchCmd.Flags().String("filter", "", "only show entries with a name containing this text")
	watchCmd.Flags().Bool("exit-when-settled", false, "exit once no action or probe is outstanding")
	rootCmd.AddCommand(watchCmd)
}
