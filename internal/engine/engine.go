// Package engine decides, per repository, whether a fetch/merge/status/update
// action can proceed cleanly by comparing the local branch with its upstream,
// and runs the git subprocesses that carry the action out.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/model"
)

// DefaultStashSentinel is the stash message that marks an interrupted run.
const DefaultStashSentinel = "repofleet-sentinel"

// Relation describes how the local branch relates to its upstream.
type Relation string

const (
	RelationUnknown   Relation = ""
	RelationIdentical Relation = "identical"
	RelationAhead     Relation = "ahead"
	RelationDiverged  Relation = "diverged"
)

// Outcome is the human-readable result of one Apply call.
type Outcome struct {
	Action   model.Action
	Path     string
	Branch   string
	Upstream string
	Relation Relation
	// Ahead and Behind count commits relative to the upstream tip.
	Ahead  int
	Behind int
	// Overlap lists files changed on both sides since the merge-base.
	Overlap []string
	// Rebaseable is the prediction for a diverged branch: true when no file
	// was touched on both sides.
	Rebaseable bool
	// Rebased is true when Merge actually replayed the branch.
	Rebased bool
	// Lines is the display text, including git output.
	Lines []string
}

// Summary returns the first line starting with "error", else the last
// non-empty line, suitable for a status column.
func (o Outcome) Summary() string {
	var summary gitx.OutputSummary
	for _, line := range o.Lines {
		summary.Observe(line)
	}
	if msg := summary.Message(0); msg != nil {
		return *msg
	}
	return ""
}

// Options configures an Executor.
type Options struct {
	// PullRebase selects `git pull --rebase` for updates.
	PullRebase bool
	// StashSentinel is the stash message that blocks Status and Merge.
	StashSentinel string
	Logger        *zap.Logger
}

// Executor applies actions to single repositories. It is safe for
// concurrent use as long as the Runner is.
type Executor struct {
	runner  gitx.Runner
	targets []model.RepoTarget
	opts    Options
	logger  *zap.Logger
}

// New creates an Executor. targets are used to resolve names; absolute
// paths are accepted whether registered or not.
func New(runner gitx.Runner, targets []model.RepoTarget, opts Options) *Executor {
	if runner == nil {
		runner = &gitx.GitRunner{}
	}
	if strings.TrimSpace(opts.StashSentinel) == "" {
		opts.StashSentinel = DefaultStashSentinel
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		runner:  runner,
		targets: append([]model.RepoTarget(nil), targets...),
		opts:    opts,
		logger:  logger,
	}
}

// Resolve maps a target (absolute path or registered name) to a directory.
func (e *Executor) Resolve(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", notFound(target, "empty target")
	}
	dir := target
	if !filepath.IsAbs(target) {
		found := false
		for _, t := range e.targets {
			if t.HasName(target) {
				dir = t.Path
				found = true
				break
			}
		}
		if !found {
			return "", notFound(target, "no registered repository with that name")
		}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", notFound(filepath.Clean(dir), "directory does not exist")
	}
	return filepath.Clean(dir), nil
}

// Apply runs action against target. Errors are always *ActionError.
func (e *Executor) Apply(ctx context.Context, action model.Action, target string) (Outcome, error) {
	dir, err := e.Resolve(target)
	if err != nil {
		return Outcome{Action: action, Path: target}, err
	}
	out := Outcome{Action: action, Path: dir}
	log := e.logger.With(zap.String("path", dir), zap.String("action", string(action)))
	log.Debug("apply")

	switch action {
	case model.ActionFetch:
		err = e.fetch(ctx, dir, &out)
	case model.ActionUpdate:
		err = e.update(ctx, dir, &out)
	case model.ActionStatus, model.ActionMerge:
		err = e.compare(ctx, action, dir, &out)
	default:
		err = &ActionError{Kind: KindSubprocessFailed, Path: dir, Detail: fmt.Sprintf("unsupported action %q", action)}
	}
	if err != nil {
		log.Debug("apply failed", zap.Error(err), zap.String("class", gitx.ClassifyError(err)))
		return out, err
	}
	return out, nil
}

func (e *Executor) fetch(ctx context.Context, dir string, out *Outcome) error {
	output, err := gitx.Fetch(ctx, e.runner, dir)
	out.Lines = append(out.Lines, gitx.SplitOutputLines(output)...)
	if err != nil {
		return subprocessFailed(dir, output, err)
	}
	out.Lines = append(out.Lines, "fetched")
	return nil
}

func (e *Executor) update(ctx context.Context, dir string, out *Outcome) error {
	if err := e.fetch(ctx, dir, out); err != nil {
		return err
	}
	output, err := gitx.Pull(ctx, e.runner, dir, e.opts.PullRebase)
	out.Lines = append(out.Lines, gitx.SplitOutputLines(output)...)
	if err != nil {
		return subprocessFailed(dir, output, err)
	}
	return nil
}

// compare walks CheckBranch -> CheckTracking -> CompareRevisions and then
// handles the identical, ahead, or diverged case.
func (e *Executor) compare(ctx context.Context, action model.Action, dir string, out *Outcome) error {
	if err := e.checkStash(ctx, dir); err != nil {
		return err
	}

	branch, err := gitx.CurrentBranch(ctx, e.runner, dir)
	if err != nil {
		return gitFailure(dir, err)
	}
	out.Branch = branch

	upstream, ok, err := gitx.Upstream(ctx, e.runner, dir)
	if err != nil {
		return gitFailure(dir, err)
	}
	if !ok {
		return &ActionError{Kind: KindNoTrackingBranch, Path: dir, Detail: fmt.Sprintf("branch %q has no upstream", branch)}
	}
	out.Upstream = upstream

	local, err := gitx.RevParse(ctx, e.runner, dir, branch)
	if err != nil {
		return gitFailure(dir, err)
	}
	remote, err := gitx.RevParse(ctx, e.runner, dir, upstream)
	if err != nil {
		return gitFailure(dir, err)
	}

	if local == remote {
		out.Relation = RelationIdentical
		return e.identical(ctx, action, dir, out)
	}

	base, err := gitx.MergeBase(ctx, e.runner, dir, branch, upstream)
	if err != nil {
		return gitFailure(dir, err)
	}
	if base == remote {
		out.Relation = RelationAhead
		return e.ahead(ctx, dir, out)
	}
	out.Relation = RelationDiverged
	return e.diverged(ctx, action, dir, base, out)
}

func (e *Executor) checkStash(ctx context.Context, dir string) error {
	entries, err := gitx.StashList(ctx, e.runner, dir)
	if err != nil {
		return gitFailure(dir, err)
	}
	if entry, found := gitx.FindStashByName(entries, e.opts.StashSentinel); found {
		return stashPending(dir, entry)
	}
	return nil
}

func (e *Executor) identical(ctx context.Context, action model.Action, dir string, out *Outcome) error {
	if action == model.ActionStatus {
		status, err := gitx.ShortStatus(ctx, e.runner, dir)
		if err != nil {
			return gitFailure(dir, err)
		}
		out.Lines = append(out.Lines, gitx.SplitOutputLines(status)...)
	}
	out.Lines = append(out.Lines, fmt.Sprintf("%s is the same as %s", out.Branch, out.Upstream))
	return nil
}

func (e *Executor) ahead(ctx context.Context, dir string, out *Outcome) error {
	gap, err := gitx.CommitGap(ctx, e.runner, dir, out.Branch, out.Upstream)
	if err != nil {
		return gitFailure(dir, err)
	}
	out.Ahead = gap
	graph, err := gitx.CommitLogBetween(ctx, e.runner, dir, out.Branch, out.Upstream)
	if err != nil {
		return gitFailure(dir, err)
	}
	out.Lines = append(out.Lines, gitx.SplitOutputLines(graph)...)
	out.Lines = append(out.Lines, fmt.Sprintf("%s is ahead of %s by %d commit(s)", out.Branch, out.Upstream, gap))
	return nil
}

func (e *Executor) diverged(ctx context.Context, action model.Action, dir, base string, out *Outcome) error {
	var err error
	if out.Ahead, err = gitx.CommitGap(ctx, e.runner, dir, out.Branch, out.Upstream); err != nil {
		return gitFailure(dir, err)
	}
	if out.Behind, err = gitx.CommitGap(ctx, e.runner, dir, out.Upstream, out.Branch); err != nil {
		return gitFailure(dir, err)
	}

	overlap, err := e.overlap(ctx, dir, base, out.Branch, out.Upstream)
	if err != nil {
		return gitFailure(dir, err)
	}
	out.Overlap = overlap
	out.Rebaseable = len(overlap) == 0

	if !out.Rebaseable {
		out.Lines = append(out.Lines, "changed on both sides:")
		for _, path := range overlap {
			out.Lines = append(out.Lines, "  "+path)
		}
		out.Lines = append(out.Lines, fmt.Sprintf("%s cannot be rebased cleanly onto %s", out.Branch, out.Upstream))
		return nil
	}
	if action != model.ActionMerge {
		out.Lines = append(out.Lines, fmt.Sprintf("%s can be rebased onto %s (%d ahead, %d behind)", out.Branch, out.Upstream, out.Ahead, out.Behind))
		return nil
	}

	output, err := gitx.Rebase(ctx, e.runner, dir, out.Upstream)
	out.Lines = append(out.Lines, gitx.SplitOutputLines(output)...)
	if err != nil {
		if abortErr := gitx.RebaseAbort(ctx, e.runner, dir); abortErr != nil {
			e.logger.Warn("rebase abort failed", zap.String("path", dir), zap.Error(abortErr))
		}
		return subprocessFailed(dir, output, err)
	}
	out.Rebased = true
	out.Lines = append(out.Lines, fmt.Sprintf("rebased %s onto %s", out.Branch, out.Upstream))
	return nil
}

// overlap intersects the files each side changed since their merge-base.
func (e *Executor) overlap(ctx context.Context, dir, base, branch, upstream string) ([]string, error) {
	local, err := gitx.ChangedFiles(ctx, e.runner, dir, base, branch)
	if err != nil {
		return nil, err
	}
	remote, err := gitx.ChangedFiles(ctx, e.runner, dir, base, upstream)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(remote))
	for _, path := range remote {
		seen[path] = struct{}{}
	}
	var shared []string
	for _, path := range local {
		if _, ok := seen[path]; ok {
			shared = append(shared, path)
		}
	}
	sort.Strings(shared)
	return shared, nil
}
