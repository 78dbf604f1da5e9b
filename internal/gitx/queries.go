package gitx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// IsRepo checks whether the given path is inside a git working tree.
func IsRepo(ctx context.Context, r Runner, dir string) (bool, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// IsBare checks whether the given path is a bare git repository.
func IsBare(ctx context.Context, r Runner, dir string) (bool, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--is-bare-repository")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// CurrentBranch returns the checked-out branch, or "HEAD" when detached.
func CurrentBranch(ctx context.Context, r Runner, dir string) (string, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", withOutput(err, out))
	}
	return strings.TrimSpace(out), nil
}

// Upstream returns the tracking ref of the current branch. The boolean is
// false when no upstream is configured.
func Upstream(ctx context.Context, r Runner, dir string) (string, bool, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err != nil {
		if IsSpawnError(err) {
			return "", false, err
		}
		return "", false, nil
	}
	upstream := strings.TrimSpace(out)
	return upstream, upstream != "", nil
}

// RevParse resolves a ref to its full object name.
func RevParse(ctx context.Context, r Runner, dir, ref string) (string, error) {
	out, err := r.Run(ctx, dir, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", ref, withOutput(err, out))
	}
	return strings.TrimSpace(out), nil
}

// MergeBase returns the best common ancestor of two refs.
func MergeBase(ctx context.Context, r Runner, dir, a, b string) (string, error) {
	out, err := r.Run(ctx, dir, "merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("git merge-base %s %s: %w", a, b, withOutput(err, out))
	}
	return strings.TrimSpace(out), nil
}

// CommitGap counts commits reachable from newer but not from older.
func CommitGap(ctx context.Context, r Runner, dir, newer, older string) (int, error) {
	out, err := r.Run(ctx, dir, "rev-list", "--count", older+".."+newer)
	if err != nil {
		return 0, fmt.Errorf("git rev-list --count: %w", withOutput(err, out))
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// CommitLogBetween renders the graph of commits in newer that are missing
// from older.
func CommitLogBetween(ctx context.Context, r Runner, dir, newer, older string) (string, error) {
	out, err := r.Run(ctx, dir, "log", "--oneline", "--graph", "--decorate", "--abbrev-commit", older+".."+newer)
	if err != nil {
		return "", fmt.Errorf("git log: %w", withOutput(err, out))
	}
	return out, nil
}

// ChangedFiles lists paths that differ between base and ref.
func ChangedFiles(ctx context.Context, r Runner, dir, base, ref string) ([]string, error) {
	out, err := r.Run(ctx, dir, "diff", "--name-only", base, ref)
	if err != nil {
		return nil, fmt.Errorf("git diff --name-only: %w", withOutput(err, out))
	}
	return ParseNameList(out), nil
}

// AheadBehind counts commits between HEAD and its upstream.
func AheadBehind(ctx context.Context, r Runner, dir string) (int, int, error) {
	out, err := r.Run(ctx, dir, "rev-list", "--left-right", "--count", "HEAD...@{u}")
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list --left-right: %w", withOutput(err, out))
	}
	ahead, behind := ParseRevListCount(out)
	return ahead, behind, nil
}

// WorktreeStatus returns the working tree dirty/staged/unstaged/untracked counts.
func WorktreeStatus(ctx context.Context, r Runner, dir string) (*Worktree, error) {
	out, err := r.Run(ctx, dir, "status", "--porcelain=v1")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", withOutput(err, out))
	}
	return ParsePorcelainStatus(out), nil
}

// ShortStatus returns `git status -s` output for display.
func ShortStatus(ctx context.Context, r Runner, dir string) (string, error) {
	out, err := r.Run(ctx, dir, "status", "-s")
	if err != nil {
		return "", fmt.Errorf("git status -s: %w", withOutput(err, out))
	}
	return out, nil
}

// StashList returns parsed stash entries.
func StashList(ctx context.Context, r Runner, dir string) ([]StashEntry, error) {
	out, err := r.Run(ctx, dir, "stash", "list")
	if err != nil {
		return nil, fmt.Errorf("git stash list: %w", withOutput(err, out))
	}
	return ParseStashList(out), nil
}

// Fetch runs `git fetch --prune` and returns its output.
func Fetch(ctx context.Context, r Runner, dir string) (string, error) {
	return r.Run(ctx, dir, PullSteps(false)[0]...)
}

// Pull runs the pull step, optionally rebasing local commits.
func Pull(ctx context.Context, r Runner, dir string, rebase bool) (string, error) {
	return r.Run(ctx, dir, PullSteps(rebase)[1]...)
}

// Rebase replays the current branch onto upstream.
func Rebase(ctx context.Context, r Runner, dir, upstream string) (string, error) {
	return r.Run(ctx, dir, "rebase", upstream)
}

// RebaseAbort abandons an in-progress rebase.
func RebaseAbort(ctx context.Context, r Runner, dir string) error {
	out, err := r.Run(ctx, dir, "rebase", "--abort")
	if err != nil {
		return fmt.Errorf("git rebase --abort: %w", withOutput(err, out))
	}
	return nil
}

// PullSteps returns the argument lists for a full update: fetch with
// pruning, then pull with or without rebase.
func PullSteps(rebase bool) [][]string {
	pull := []string{"pull"}
	if rebase {
		pull = append(pull, "--rebase")
	}
	return [][]string{{"fetch", "--prune"}, pull}
}

// withOutput folds command output into err so that classification and
// operator messages see git's own explanation.
func withOutput(err error, out string) error {
	out = strings.TrimSpace(out)
	if out == "" {
		return err
	}
	return &CommandError{Output: out, Err: err}
}

// CommandError pairs a git failure with its combined output.
type CommandError struct {
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	if msg := Summarize(e.Output, ExitCode(e.Err)); msg != nil {
		return *msg
	}
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error { return e.Err }
