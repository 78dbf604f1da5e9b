package repofleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skaphos/repofleet/internal/cliio"
	"github.com/skaphos/repofleet/internal/dashboard"
	"github.com/skaphos/repofleet/internal/engine"
	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/health"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/scheduler"
)

func newActionCmd(action model.Action, use string, aliases []string, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use + " [target]",
		Aliases: aliases,
		Short:   short,
		Long: short + ". With a target (a registered name, a path, or . for the current directory) " +
			"the action runs once in the foreground; without one it runs across every registered working tree.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runSingleAction(cmd, action, args[0])
			}
			return runFleetAction(cmd, action)
		},
	}
	cmd.Flags().Int("concurrency", 0, "maximum concurrent repositories (defaults from config)")
	cmd.Flags().String("filter", "", "only run on entries with a name containing this text")
	if action == model.ActionUpdate {
		cmd.Flags().Bool("rebase", false, "pull with --rebase (overrides pull_rebase from config)")
		cmd.Flags().Bool("show-log", false, "print the captured output of failed updates")
	}
	return cmd
}

func pullRebase(cmd *cobra.Command, s *session) bool {
	if flag := cmd.Flags().Lookup("rebase"); flag != nil && flag.Changed {
		v, _ := cmd.Flags().GetBool("rebase")
		return v
	}
	return s.cfg.PullRebase
}

func newExecutor(cmd *cobra.Command, s *session) *engine.Executor {
	return engine.New(newRunner(), s.reg.Targets(), engine.Options{
		PullRebase:    pullRebase(cmd, s),
		StashSentinel: s.cfg.StashSentinel,
		Logger:        s.logger,
	})
}

func runSingleAction(cmd *cobra.Command, action model.Action, target string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()

	resolved, err := resolveTarget(target)
	if err != nil {
		return err
	}
	out, err := newExecutor(cmd, s).Apply(cmd.Context(), action, resolved)
	logOutputWriteFailure(cmd, string(action), cliio.WriteLines(cmd.OutOrStdout(), out.Lines))
	if err != nil {
		reportActionError(cmd, err)
		return nil
	}
	if len(out.Overlap) > 0 {
		infof(cmd, "not rebased: local and upstream both touch %d file(s)", len(out.Overlap))
		raiseExitCode(1)
	}
	return nil
}

func reportActionError(cmd *cobra.Command, err error) {
	var actionErr *engine.ActionError
	if errors.As(err, &actionErr) && actionErr.Skipped() {
		infof(cmd, "skipped: %s", actionErr.Message())
		raiseExitCode(1)
		return
	}
	infof(cmd, "error [%s]: %v", gitx.ClassifyError(err), err)
	raiseExitCode(2)
}

// recordingExecutor remembers the error of each delegated action so the
// summary can tell skipped repositories from failed ones.
type recordingExecutor struct {
	inner scheduler.Executor
	mu    sync.Mutex
	errs  map[string]error
}

func (r *recordingExecutor) Apply(ctx context.Context, action model.Action, target string) (engine.Outcome, error) {
	out, err := r.inner.Apply(ctx, action, target)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs[target] = err
	} else {
		delete(r.errs, target)
	}
	return out, err
}

func (r *recordingExecutor) errFor(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[path]
}

func runFleetAction(cmd *cobra.Command, action model.Action) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()

	targets := s.reg.Targets()
	if len(targets) == 0 {
		infof(cmd, "registry is empty; use add or scan first")
		return nil
	}

	limit, _ := cmd.Flags().GetInt("concurrency")
	if limit <= 0 {
		limit = s.cfg.Defaults.WriteConcurrency
		if action.ReadOnly() {
			limit = s.cfg.Defaults.ReadConcurrency
		}
	}
	recorder := &recordingExecutor{inner: newExecutor(cmd, s), errs: make(map[string]error)}
	sched := scheduler.New(scheduler.Options{
		Executor:   recorder,
		Spawner:    newSpawner(),
		PullRebase: pullRebase(cmd, s),
		LogLines:   s.cfg.Defaults.LogLines,
		Logger:     s.logger,
	})
	loop := dashboard.New(targets, dashboard.Options{
		Scheduler:  sched,
		Prober:     health.NewProber(newRunner(), s.cfg.Defaults.ReadConcurrency, s.logger),
		Tick:       time.Duration(s.cfg.Defaults.TickMillis) * time.Millisecond,
		WriteLimit: limit,
		Logger:     s.logger,
	})
	defer loop.Close()

	filter, _ := cmd.Flags().GetString("filter")
	loop.Aggregator().SetFilter(filter)
	submitted := loop.Submit(action)
	if submitted == 0 {
		infof(cmd, "no working trees match")
		return nil
	}
	s.logger.Info("fleet action", zap.String("action", string(action)), zap.Int("repos", submitted), zap.Int("limit", limit))
	debugf(cmd, "%s: %d repos, %d at a time", action, submitted, limit)

	lastDone := -1
	progress := func(snap dashboard.Snapshot) {
		if snap.Done != lastDone {
			lastDone = snap.Done
			infof(cmd, "%s: %d/%d done, %d running", action, snap.Done, snap.Total, snap.Running)
		}
	}
	if err := loop.Run(cmd.Context(), progress, (*dashboard.Loop).Settled); err != nil {
		return err
	}

	snap := loop.Snapshot()
	setColorOutputMode(cmd, "table")
	logOutputWriteFailure(cmd, string(action), writeFleetTable(cmd, snap.Rows))

	showLog := false
	if flag := cmd.Flags().Lookup("show-log"); flag != nil {
		showLog, _ = cmd.Flags().GetBool("show-log")
	}
	failed, skipped := 0, 0
	for _, row := range snap.Rows {
		if !row.Tracked || !row.State.Failed() {
			continue
		}
		var actionErr *engine.ActionError
		if errors.As(recorder.errFor(row.Target.Path), &actionErr) && actionErr.Skipped() {
			skipped++
			raiseExitCode(1)
			continue
		}
		failed++
		raiseExitCode(2)
		if showLog {
			writeCapturedLog(cmd, row.Target, sched.Log(row.Target.Path))
		}
	}
	infof(cmd, "%s completed: %d repos, %d failed, %d skipped", action, snap.Total, failed, skipped)
	return nil
}

func writeCapturedLog(cmd *cobra.Command, target model.RepoTarget, lines []string) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "\n==> %s (%s)\n", target.DisplayName(), target.Path)
	logOutputWriteFailure(cmd, "log", cliio.WriteLines(out, lines))
}

func init() {
	rootCmd.AddCommand(
		newActionCmd(model.ActionStatus, "status", []string{"st"}, "Compare each branch with its upstream"),
		newActionCmd(model.ActionFetch, "fetch", nil, "Fetch and prune remotes"),
		newActionCmd(model.ActionMerge, "merge", nil, "Fast-forward or rebase onto the upstream when it is safe"),
		newActionCmd(model.ActionUpdate, "update", []string{"pull"}, "Fetch, then pull the upstream"),
	)
}
